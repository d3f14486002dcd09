package physics

import (
	"fmt"
	"reflect"
)

type EntityKind uint8

const (
	EntityBall EntityKind = iota + 1
	EntityBrick
)

func (k EntityKind) String() string {
	switch k {
	case EntityBall:
		return "ball"
	case EntityBrick:
		return "brick"
	default:
		return "unknown"
	}
}

type Entity struct {
	Kind EntityKind
	ID   string
}

// handleKey normalises an engine handle into something comparable. Plain
// numbers of any width compare by value, so an event carrying float64(3)
// resolves the body registered under uint32(3). Numbers of a defined type
// also compare by type, keeping body and collider handle spaces apart.
type handleKey struct {
	class uint8
	num   float64
	str   string
	ptr   uintptr
}

const (
	classNum uint8 = iota + 1
	classStr
	classPtr
	classOther
)

func keyOf(raw reflect.Value) (handleKey, bool) {
	v := settle(raw)
	if !v.IsValid() {
		return handleKey{}, false
	}
	if f, ok := toFloat(v); ok {
		k := handleKey{class: classNum, num: f}
		if v.Type().PkgPath() != "" {
			k.str = v.Type().String()
		}
		return k, true
	}
	switch v.Kind() {
	case reflect.String:
		return handleKey{class: classStr, str: v.String()}, true
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return handleKey{}, false
		}
		return handleKey{class: classPtr, ptr: v.Pointer(), str: v.Type().String()}, true
	}
	if v.CanInterface() && v.Type().Comparable() {
		return handleKey{class: classOther, str: fmt.Sprintf("%T:%v", v.Interface(), v.Interface())}, true
	}
	return handleKey{}, false
}

// handleMap resolves engine handles back to domain entities.
type handleMap struct {
	entities map[handleKey]Entity
}

func newHandleMap() *handleMap {
	return &handleMap{entities: make(map[handleKey]Entity)}
}

// put maps k to e. A key already held by another entity is left alone and
// put reports false.
func (m *handleMap) put(k handleKey, e Entity) bool {
	if prev, ok := m.entities[k]; ok && prev != e {
		return false
	}
	m.entities[k] = e
	return true
}

func (m *handleMap) drop(keys []handleKey) {
	for _, k := range keys {
		delete(m.entities, k)
	}
}

func (m *handleMap) resolve(raw reflect.Value) (Entity, bool) {
	k, ok := keyOf(raw)
	if !ok {
		return Entity{}, false
	}
	e, ok := m.entities[k]
	return e, ok
}

func (m *handleMap) len() int {
	return len(m.entities)
}

func (m *handleMap) reset() {
	clear(m.entities)
}
