package physics

import (
	"errors"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/ballphys/internal/core/observability/diag"
	"github.com/zeusync/ballphys/internal/core/observability/log"
)

type lowerVec struct{ x, y, z float64 }

func TestDecodeVec(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want [4]float64
		ok   bool
	}{
		{"Slice", []float64{1, 2, 3}, [4]float64{1, 2, 3, 1}, true},
		{"Short Slice", []float64{1, 2}, [4]float64{1, 2, 0, 1}, true},
		{"Array Float32", [4]float32{1, 2, 3, 0.5}, [4]float64{1, 2, 3, 0.5}, true},
		{"Int Array", [3]int{4, 5, 6}, [4]float64{4, 5, 6, 1}, true},
		{"Struct", struct{ X, Y, Z float64 }{1, 2, 3}, [4]float64{1, 2, 3, 1}, true},
		{"Lowercase Struct", lowerVec{7, 8, 9}, [4]float64{7, 8, 9, 1}, true},
		{"Pointer Struct", &struct{ X, Y float64 }{1, 2}, [4]float64{1, 2, 0, 1}, true},
		{"Map", map[string]any{"x": 1, "y": 2.5}, [4]float64{1, 2.5, 0, 1}, true},
		{"Upper Map", map[string]float64{"X": 1, "W": 0}, [4]float64{1, 0, 0, 0}, true},
		{"Quat", mgl64.Quat{W: 0.5, V: mgl64.Vec3{1, 2, 3}}, [4]float64{1, 2, 3, 0.5}, true},
		{"Vec3", mgl64.Vec3{3, 2, 1}, [4]float64{3, 2, 1, 1}, true},
		{"Scalar", 3.0, [4]float64{0, 0, 0, 1}, false},
		{"Nil", nil, [4]float64{0, 0, 0, 1}, false},
		{"Strings", []string{"a"}, [4]float64{0, 0, 0, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeVec(reflect.ValueOf(tt.in))
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

type methodBody struct {
	pos     mgl64.Vec3
	impulse mgl64.Vec3
}

func (b *methodBody) Translation() (map[string]float64, error) {
	return map[string]float64{"x": b.pos[0], "y": b.pos[1], "z": b.pos[2]}, nil
}

func (b *methodBody) ApplyImpulse(v struct{ X, Y, Z float64 }, wake bool) {
	if !wake {
		panic("expected wake")
	}
	b.impulse = mgl64.Vec3{v.X, v.Y, v.Z}
}

type brokenBody struct{}

func (brokenBody) Translation() []float64 { panic("detached") }
func (brokenBody) Linvel() ([]float64, error) {
	return nil, errors.New("no velocity")
}
func (brokenBody) ApplyImpulse(v []float64) { panic("locked") }

func TestProber(t *testing.T) {
	t.Run("Method Accessor", func(t *testing.T) {
		p := newProber(diag.Discard)
		got, ok := p.readVec(&methodBody{pos: mgl64.Vec3{1, 2, 3}}, "translation", translationNames)
		require.True(t, ok)
		require.Equal(t, mgl64.Vec3{1, 2, 3}, got)
	})

	t.Run("Field Accessor", func(t *testing.T) {
		p := newProber(diag.Discard)
		b := &fakeBody{Translation: [3]float64{4, 5, 6}, Linvel: map[string]float64{"y": 2}}
		pos, ok := p.readVec(b, "translation", translationNames)
		require.True(t, ok)
		require.Equal(t, mgl64.Vec3{4, 5, 6}, pos)
		vel, ok := p.readVec(b, "linvel", linvelNames)
		require.True(t, ok)
		require.Equal(t, mgl64.Vec3{0, 2, 0}, vel)
	})

	t.Run("Map Body", func(t *testing.T) {
		p := newProber(diag.Discard)
		b := map[string]any{"position": []any{1, 2, 3}, "rotation": map[string]any{"x": 0, "y": 0, "z": 1, "w": 0}}
		pos, ok := p.readVec(b, "translation", translationNames)
		require.True(t, ok)
		require.Equal(t, mgl64.Vec3{1, 2, 3}, pos)
		rot, ok := p.readQuat(b, "rotation", rotationNames)
		require.True(t, ok)
		require.Equal(t, mgl64.Quat{W: 0, V: mgl64.Vec3{0, 0, 1}}, rot)
	})

	t.Run("Missing Rotation Is Identity", func(t *testing.T) {
		p := newProber(diag.Discard)
		rot, ok := p.readQuat(&fakeBody{}, "rotation", rotationNames)
		require.True(t, ok, "nil slice field still decodes")
		require.Equal(t, mgl64.QuatIdent(), rot)

		rot, ok = p.readQuat(struct{}{}, "rotation", rotationNames)
		require.False(t, ok)
		require.Equal(t, mgl64.QuatIdent(), rot)
	})

	t.Run("Accessor Cached Per Type", func(t *testing.T) {
		p := newProber(diag.Discard)
		p.readVec(&methodBody{}, "translation", translationNames)
		p.readVec(&methodBody{}, "translation", translationNames)
		p.readVec(&fakeBody{}, "translation", translationNames)
		require.Len(t, p.cache, 2)
	})

	t.Run("Failures Are Swallowed", func(t *testing.T) {
		sink := diag.NewSink(log.NewNop(), 8)
		p := newProber(sink)
		require.NotPanics(t, func() {
			pos, ok := p.readVec(brokenBody{}, "translation", translationNames)
			require.False(t, ok)
			require.Equal(t, mgl64.Vec3{}, pos)
			_, ok = p.readVec(brokenBody{}, "linvel", linvelNames)
			require.False(t, ok)
		})
		assert.Equal(t, uint64(2), sink.Count(diag.KindProbe))
	})
}

func TestProber_CallVec(t *testing.T) {
	t.Run("Object Shape", func(t *testing.T) {
		p := newProber(diag.Discard)
		b := &methodBody{}
		s, ok := p.callVec(b, diag.KindImpulse, impulseMethodNames, mgl64.Vec3{1, 2, 3})
		require.True(t, ok)
		require.Equal(t, shapeObject, s)
		require.Equal(t, mgl64.Vec3{1, 2, 3}, b.impulse)
	})

	t.Run("Array Shape", func(t *testing.T) {
		p := newProber(diag.Discard)
		b := &arrayBody{vel: []float64{0, 0, 0}}
		s, ok := p.callVec(b, diag.KindImpulse, impulseMethodNames, mgl64.Vec3{1, 0, -1})
		require.True(t, ok)
		require.Equal(t, shapeArray, s)
		require.Equal(t, []float64{1, 0, -1}, b.vel)
	})

	t.Run("Panicking Call", func(t *testing.T) {
		sink := diag.NewSink(log.NewNop(), 8)
		p := newProber(sink)
		_, ok := p.callVec(brokenBody{}, diag.KindImpulse, impulseMethodNames, mgl64.Vec3{1, 0, 0})
		require.False(t, ok)
		require.Equal(t, uint64(1), sink.Count(diag.KindImpulse))
	})

	t.Run("Set Field", func(t *testing.T) {
		p := newProber(diag.Discard)
		b := &fakeBody{Linvel: map[string]float64{}}
		require.True(t, p.setField(b, diag.KindProbe, linvelNames, mgl64.Vec3{1, 2, 3}))
		require.Equal(t, map[string]float64{"x": 1, "y": 2, "z": 3}, b.Linvel)
		require.True(t, p.setField(b, diag.KindProbe, translationNames, mgl64.Vec3{4, 5, 6}))
		require.Equal(t, [3]float64{4, 5, 6}, b.Translation)
		require.False(t, p.setField(fakeBody{}, diag.KindProbe, translationNames, mgl64.Vec3{}), "not addressable")
	})
}

func TestKeyOf(t *testing.T) {
	type colliderHandle uint32
	type bodyHandle uint32

	k1, ok := keyOf(reflect.ValueOf(uint32(3)))
	require.True(t, ok)
	k2, _ := keyOf(reflect.ValueOf(3.0))
	require.Equal(t, k1, k2, "plain numbers compare by value")

	c, _ := keyOf(reflect.ValueOf(colliderHandle(3)))
	b, _ := keyOf(reflect.ValueOf(bodyHandle(3)))
	require.NotEqual(t, c, b)
	require.NotEqual(t, k1, c)

	body := &fakeBody{}
	p1, _ := keyOf(reflect.ValueOf(body))
	p2, _ := keyOf(reflect.ValueOf(any(body)))
	require.Equal(t, p1, p2)

	_, ok = keyOf(reflect.ValueOf((*fakeBody)(nil)))
	require.False(t, ok)
}
