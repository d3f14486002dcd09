package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelWarn, ParseLevel("warning"))
	require.Equal(t, LevelSilent, ParseLevel("off"))
	require.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestLogger_Levels(t *testing.T) {
	l := New(LevelWarn)
	require.Equal(t, LevelWarn, l.GetLevel())

	child := l.With(String("component", "test")).Named("child")
	l.SetLevel(LevelDebug)
	require.Equal(t, LevelDebug, child.GetLevel())

	l.SetLevel(LevelSilent)
	require.Equal(t, LevelSilent, l.GetLevel())
}

func TestToZapFields(t *testing.T) {
	fields := toZapFields(
		String("s", "v"),
		Int("i", 1),
		Strings("ids", []string{"a", "b"}),
		Error(errors.New("boom")),
		Any("any", struct{}{}),
	)
	require.Len(t, fields, 5)
	require.Equal(t, "s", fields[0].Key)
	require.Equal(t, "error", fields[3].Key)
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
	l := NewNop()
	require.Same(t, l, OrNop(l))
}
