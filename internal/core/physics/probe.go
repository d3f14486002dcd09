package physics

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ballphys/internal/core/observability/diag"
)

type shape uint8

const (
	shapeObject shape = iota
	shapeArray
)

var shapeOrder = [...]shape{shapeObject, shapeArray}

var axisNames = [4]string{"X", "Y", "Z", "W"}

type accessKind uint8

const (
	accessNone accessKind = iota
	accessMethod
	accessField
	accessMap
)

// accessor is how a property is read on one concrete type: a zero-argument
// method, an exported field, or a set of candidate map keys.
type accessor struct {
	kind  accessKind
	index int
	field []int
	keys  []string
}

type probeKey struct {
	t    reflect.Type
	prop string
}

// prober reads and writes engine values by shape instead of by type.
// Accessors are resolved once per concrete type and property. It is not safe
// for concurrent use.
type prober struct {
	cache map[probeKey]accessor
	diag  diag.Recorder
}

func newProber(rec diag.Recorder) *prober {
	return &prober{cache: make(map[probeKey]accessor), diag: rec}
}

func (p *prober) lookup(v reflect.Value, prop string, names []string) accessor {
	k := probeKey{t: v.Type(), prop: prop}
	if a, ok := p.cache[k]; ok {
		return a
	}
	a := resolveAccessor(v.Type(), names)
	p.cache[k] = a
	return a
}

func resolveAccessor(t reflect.Type, names []string) accessor {
	for _, name := range names {
		if m, ok := t.MethodByName(name); ok && m.Type.NumIn() == 1 && m.Type.NumOut() >= 1 {
			return accessor{kind: accessMethod, index: m.Index}
		}
	}

	et := t
	for et.Kind() == reflect.Pointer {
		et = et.Elem()
	}
	switch et.Kind() {
	case reflect.Struct:
		for _, name := range names {
			if f, ok := et.FieldByName(name); ok && f.IsExported() {
				return accessor{kind: accessField, field: f.Index}
			}
		}
	case reflect.Map:
		if et.Key().Kind() == reflect.String {
			return accessor{kind: accessMap, keys: keyVariants(names)}
		}
	}
	return accessor{}
}

// get reads prop from obj. Absence is not a failure; a panicking or erroring
// accessor is recorded and treated as absent.
func (p *prober) get(obj reflect.Value, prop string, names []string) (out reflect.Value, ok bool) {
	v := settle(obj)
	if !v.IsValid() {
		return reflect.Value{}, false
	}
	a := p.lookup(v, prop, names)

	defer func() {
		if r := recover(); r != nil {
			p.diag.Record(diag.KindProbe, prop, fmt.Errorf("physics: read %s: %v", prop, r))
			out, ok = reflect.Value{}, false
		}
	}()

	switch a.kind {
	case accessMethod:
		res := v.Method(a.index).Call(nil)
		if err := trailingError(res); err != nil {
			p.diag.Record(diag.KindProbe, prop, err)
			return reflect.Value{}, false
		}
		return res[0], true
	case accessField:
		ev := deref(v)
		if !ev.IsValid() {
			return reflect.Value{}, false
		}
		f, err := ev.FieldByIndexErr(a.field)
		if err != nil {
			return reflect.Value{}, false
		}
		return f, true
	case accessMap:
		ev := deref(v)
		if !ev.IsValid() || ev.Kind() != reflect.Map {
			return reflect.Value{}, false
		}
		for _, k := range a.keys {
			if mv := ev.MapIndex(reflect.ValueOf(k).Convert(ev.Type().Key())); mv.IsValid() {
				return mv, true
			}
		}
	}
	return reflect.Value{}, false
}

func (p *prober) readVec(obj any, prop string, names []string) (mgl64.Vec3, bool) {
	raw, ok := p.get(reflect.ValueOf(obj), prop, names)
	if !ok {
		return mgl64.Vec3{}, false
	}
	c, ok := decodeVec(raw)
	return mgl64.Vec3{c[0], c[1], c[2]}, ok
}

func (p *prober) readQuat(obj any, prop string, names []string) (mgl64.Quat, bool) {
	raw, ok := p.get(reflect.ValueOf(obj), prop, names)
	if !ok {
		return mgl64.QuatIdent(), false
	}
	c, ok := decodeVec(raw)
	if !ok {
		return mgl64.QuatIdent(), false
	}
	return mgl64.Quat{W: c[3], V: mgl64.Vec3{c[0], c[1], c[2]}}, true
}

// callVec passes vec to the first method in names that accepts it,
// preferring an object-shaped argument over an array-shaped one.
func (p *prober) callVec(obj any, kind diag.Kind, names []string, vec mgl64.Vec3) (shape, bool) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() {
		return 0, false
	}
	c := [4]float64{vec[0], vec[1], vec[2], 1}
	for _, s := range shapeOrder {
		for _, name := range names {
			m := v.MethodByName(name)
			if !m.IsValid() {
				continue
			}
			args, ok := buildArgs(m.Type(), s, c)
			if !ok {
				continue
			}
			if err := invoke(m, args); err != nil {
				p.diag.Record(kind, name, err)
				continue
			}
			return s, true
		}
	}
	return 0, false
}

// setField assigns vec to the first settable field or map entry in names.
func (p *prober) setField(obj any, kind diag.Kind, names []string, vec mgl64.Vec3) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.diag.Record(kind, names[0], fmt.Errorf("physics: set %s: %v", names[0], r))
			ok = false
		}
	}()

	c := [4]float64{vec[0], vec[1], vec[2], 1}
	v := deref(reflect.ValueOf(obj))
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Struct:
		for _, name := range names {
			f := v.FieldByName(name)
			if !f.IsValid() || !f.CanSet() {
				continue
			}
			for _, s := range shapeOrder {
				if val, ok := encodeVec(f.Type(), s, c, 3); ok {
					f.Set(val)
					return true
				}
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return false
		}
		for _, k := range keyVariants(names) {
			key := reflect.ValueOf(k).Convert(v.Type().Key())
			if !v.MapIndex(key).IsValid() {
				continue
			}
			for _, s := range shapeOrder {
				if val, ok := encodeVec(v.Type().Elem(), s, c, 3); ok {
					v.SetMapIndex(key, val)
					return true
				}
			}
		}
	}
	return false
}

// callNoArgs invokes the first zero-argument method in names.
func callNoArgs(obj any, names ...string) (called bool, err error) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() {
		return false, nil
	}
	for _, name := range names {
		m := v.MethodByName(name)
		if !m.IsValid() || m.Type().NumIn() != 0 {
			continue
		}
		return true, invoke(m, nil)
	}
	return false, nil
}

func buildArgs(mt reflect.Type, s shape, c [4]float64) ([]reflect.Value, bool) {
	if mt.NumIn() < 1 || mt.IsVariadic() {
		return nil, false
	}
	first, ok := encodeVec(mt.In(0), s, c, 3)
	if !ok {
		return nil, false
	}
	args := []reflect.Value{first}
	for i := 1; i < mt.NumIn(); i++ {
		pt := mt.In(i)
		if pt.Kind() == reflect.Bool {
			// wake the body
			args = append(args, reflect.ValueOf(true).Convert(pt))
			continue
		}
		args = append(args, reflect.Zero(pt))
	}
	return args, true
}

func invoke(m reflect.Value, args []reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("physics: call panicked: %v", r)
		}
	}()
	return trailingError(m.Call(args))
}

func trailingError(res []reflect.Value) error {
	if len(res) == 0 {
		return nil
	}
	last := res[len(res)-1]
	if last.Kind() != reflect.Interface || !last.Type().Implements(errorType) || last.IsNil() {
		return nil
	}
	err, _ := last.Interface().(error)
	return err
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// decodeVec reads a 3 or 4 component vector from a slice, array, struct
// with X/Y/Z[/W] fields or a map with x/y/z[/w] keys. Missing components
// default to zero, and W to one.
func decodeVec(raw reflect.Value) (c [4]float64, ok bool) {
	c = [4]float64{0, 0, 0, 1}
	v := deref(raw)
	if !v.IsValid() {
		return c, false
	}

	switch v.Kind() {
	case reflect.Array, reflect.Slice:
		for i := 0; i < min(v.Len(), 4); i++ {
			f, fok := toFloat(v.Index(i))
			if !fok {
				return c, false
			}
			c[i] = f
		}
		return c, true
	case reflect.Struct:
		for i, name := range axisNames {
			f := v.FieldByNameFunc(func(field string) bool { return strings.EqualFold(field, name) })
			if x, fok := toFloat(f); fok {
				c[i] = x
				ok = true
			}
		}
		// quaternion laid out as {W, V}
		if inner := v.FieldByName("V"); inner.IsValid() {
			if vc, vok := decodeVec(inner); vok {
				copy(c[:3], vc[:3])
				ok = true
			}
		}
		return c, ok
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return c, false
		}
		for i, name := range axisNames {
			for _, k := range []string{strings.ToLower(name), name} {
				mv := v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key()))
				if x, fok := toFloat(mv); fok {
					c[i] = x
					ok = true
					break
				}
			}
		}
		return c, ok
	}
	return c, false
}

func encodeVec(t reflect.Type, s shape, c [4]float64, n int) (reflect.Value, bool) {
	switch t.Kind() {
	case reflect.Pointer:
		elem, ok := encodeVec(t.Elem(), s, c, n)
		if !ok {
			return reflect.Value{}, false
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, true
	case reflect.Struct:
		if s != shapeObject {
			return reflect.Value{}, false
		}
		out := reflect.New(t).Elem()
		set := 0
		for i := 0; i < n; i++ {
			name := axisNames[i]
			f := out.FieldByNameFunc(func(field string) bool { return strings.EqualFold(field, name) })
			if f.IsValid() && f.CanSet() && setFloat(f, c[i]) {
				set++
			}
		}
		return out, set > 0
	case reflect.Map:
		if s != shapeObject || t.Key().Kind() != reflect.String {
			return reflect.Value{}, false
		}
		out := reflect.MakeMapWithSize(t, n)
		for i := 0; i < n; i++ {
			val := reflect.New(t.Elem()).Elem()
			if !setFloat(val, c[i]) {
				return reflect.Value{}, false
			}
			out.SetMapIndex(reflect.ValueOf(strings.ToLower(axisNames[i])).Convert(t.Key()), val)
		}
		return out, true
	case reflect.Array:
		if s != shapeArray {
			return reflect.Value{}, false
		}
		out := reflect.New(t).Elem()
		for i := 0; i < min(n, t.Len()); i++ {
			if !setFloat(out.Index(i), c[i]) {
				return reflect.Value{}, false
			}
		}
		return out, true
	case reflect.Slice:
		if s != shapeArray {
			return reflect.Value{}, false
		}
		out := reflect.MakeSlice(t, n, n)
		for i := 0; i < n; i++ {
			if !setFloat(out.Index(i), c[i]) {
				return reflect.Value{}, false
			}
		}
		return out, true
	case reflect.Interface:
		var concrete reflect.Value
		if s == shapeObject {
			m := make(map[string]float64, n)
			for i := 0; i < n; i++ {
				m[strings.ToLower(axisNames[i])] = c[i]
			}
			concrete = reflect.ValueOf(m)
		} else {
			concrete = reflect.ValueOf(append([]float64(nil), c[:n]...))
		}
		if !concrete.Type().AssignableTo(t) {
			return reflect.Value{}, false
		}
		return concrete, true
	}
	return reflect.Value{}, false
}

func setFloat(v reflect.Value, x float64) bool {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		v.SetFloat(x)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(int64(x))
	case reflect.Interface:
		if v.NumMethod() != 0 {
			return false
		}
		v.Set(reflect.ValueOf(x))
	default:
		return false
	}
	return true
}

func toFloat(raw reflect.Value) (float64, bool) {
	v := settle(raw)
	if !v.IsValid() {
		return 0, false
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(v.Uint()), true
	}
	return 0, false
}

// settle unwraps interface values.
func settle(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// deref unwraps interfaces and pointers.
func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func keyVariants(names []string) []string {
	out := make([]string, 0, len(names)*3)
	seen := make(map[string]struct{}, len(names)*3)
	for _, name := range names {
		for _, k := range []string{name, lowerFirst(name), strings.ToLower(name)} {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
