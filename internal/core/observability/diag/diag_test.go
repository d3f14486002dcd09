package diag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSink(t *testing.T) {
	t.Run("Counts And Order", func(t *testing.T) {
		s := NewSink(nil, 4)
		s.Record(KindProbe, "translation", errors.New("a"))
		s.Record(KindProbe, "linvel", errors.New("b"))
		s.Record(KindImpulse, "applyImpulse", errors.New("c"))

		require.Equal(t, uint64(2), s.Count(KindProbe))
		require.Equal(t, uint64(1), s.Count(KindImpulse))
		require.Zero(t, s.Count(KindWorker))

		recent := s.Recent()
		require.Len(t, recent, 3)
		require.Equal(t, "translation", recent[0].Source)
		require.Equal(t, "applyImpulse", recent[2].Source)
	})

	t.Run("Ring Wraps", func(t *testing.T) {
		s := NewSink(nil, 2)
		for _, src := range []string{"a", "b", "c"} {
			s.Record(KindDispose, src, nil)
		}
		recent := s.Recent()
		require.Len(t, recent, 2)
		require.Equal(t, "b", recent[0].Source)
		require.Equal(t, "c", recent[1].Source)
		require.Equal(t, uint64(3), s.Count(KindDispose))
	})

	t.Run("Handlers", func(t *testing.T) {
		s := NewSink(nil, 0)
		var got []Kind
		s.OnRecord(func(e Entry) { got = append(got, e.Kind) })
		s.Record(KindWorker, "ring", errors.New("panic"))
		require.Equal(t, []Kind{KindWorker}, got)
	})
}
