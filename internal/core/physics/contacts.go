package physics

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/internal/core/observability/diag"
)

// OverlapEpsilon is added to a ball's radius when the overlap detector
// decides whether it touches a brick.
const OverlapEpsilon = 0.0001

var DefaultNormal = mgl64.Vec3{0, 0, 1}

// ContactEvent is one ball touching one brick during a step.
type ContactEvent struct {
	BallID  string
	BrickID string
	Point   mgl64.Vec3
	Normal  mgl64.Vec3

	Impulse    float64
	HasImpulse bool

	RelativeVelocity    mgl64.Vec3
	HasRelativeVelocity bool

	// Synthetic is set on events produced by the overlap detector.
	Synthetic bool
}

var (
	sourceNames = []string{"DrainContactEvents", "ContactEvents", "EventQueue", "Events", "Contacts"}
	drainNames  = []string{"Drain", "GetEvents", "GetContactEvents"}

	handlePairs = [][2]string{
		{"Collider1", "Collider2"},
		{"BodyA", "BodyB"},
		{"A", "B"},
	}

	pointNames   = []string{"Point", "ContactPoint", "WorldPoint", "Position"}
	normalNames  = []string{"Normal", "ContactNormal", "WorldNormal"}
	relVelNames  = []string{"RelativeVelocity", "RelVelocity", "RelativeVel", "RelVel"}
	impulseNames = []string{"Impulse", "TotalImpulse", "ImpulseMagnitude", "Force"}
)

// contactSource is where the native world keeps its contact events, found
// once per world.
type contactSource struct {
	resolved bool
	name     string
}

func (s contactSource) found() bool {
	return s.name != ""
}

func resolveContactSource(world any) contactSource {
	v := settle(reflect.ValueOf(world))
	if !v.IsValid() {
		return contactSource{resolved: true}
	}
	for _, name := range sourceNames {
		acc := resolveAccessor(v.Type(), []string{name})
		switch acc.kind {
		case accessNone:
			continue
		case accessMap:
			if !hasMapKey(deref(v), acc.keys) {
				continue
			}
		}
		return contactSource{resolved: true, name: name}
	}
	return contactSource{resolved: true}
}

func hasMapKey(m reflect.Value, keys []string) bool {
	if !m.IsValid() || m.Kind() != reflect.Map {
		return false
	}
	for _, k := range keys {
		if m.MapIndex(reflect.ValueOf(k).Convert(m.Type().Key())).IsValid() {
			return true
		}
	}
	return false
}

// fetchRaw pulls the raw event list from the resolved source.
func (a *Adapter) fetchRaw() []reflect.Value {
	val, ok := a.probe.get(reflect.ValueOf(a.world), "source."+a.source.name, []string{a.source.name})
	if !ok {
		return nil
	}
	list, err := eventList(val, 0)
	if err != nil {
		a.diag.Record(diag.KindEventSource, a.source.name, err)
		return nil
	}
	return list
}

// eventList interprets a source value: a list, a function returning one, or
// an object with a drain-like method returning one.
func eventList(raw reflect.Value, depth int) (list []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("physics: read contact events: %v", r)
		}
	}()

	v := settle(raw)
	if !v.IsValid() || depth > 2 {
		return nil, nil
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		list = make([]reflect.Value, v.Len())
		for i := range list {
			list[i] = v.Index(i)
		}
		return list, nil
	case reflect.Func:
		if v.IsNil() || v.Type().NumIn() != 0 || v.Type().NumOut() < 1 {
			return nil, fmt.Errorf("physics: contact source func has signature %s", v.Type())
		}
		res := v.Call(nil)
		if err := trailingError(res); err != nil {
			return nil, err
		}
		return eventList(res[0], depth+1)
	}

	for _, name := range drainNames {
		m := v.MethodByName(name)
		if !m.IsValid() || m.Type().NumIn() != 0 || m.Type().NumOut() < 1 {
			continue
		}
		res := m.Call(nil)
		if err := trailingError(res); err != nil {
			return nil, err
		}
		return eventList(res[0], depth+1)
	}
	return nil, fmt.Errorf("physics: contact source of type %s has no events", v.Type())
}

// parseEvent turns one raw event into a ContactEvent. Events that do not
// pair exactly one ball with one brick are dropped.
func (a *Adapter) parseEvent(ev reflect.Value) (ContactEvent, bool) {
	first, second, ok := a.eventEntities(ev)
	if !ok {
		return ContactEvent{}, false
	}

	var out ContactEvent
	switch {
	case first.Kind == EntityBall && second.Kind == EntityBrick:
		out.BallID, out.BrickID = first.ID, second.ID
	case first.Kind == EntityBrick && second.Kind == EntityBall:
		out.BallID, out.BrickID = second.ID, first.ID
	default:
		return ContactEvent{}, false
	}

	if raw, ok := a.probe.get(ev, "event.point", pointNames); ok {
		if c, ok := decodeVec(raw); ok {
			out.Point = mgl64.Vec3{c[0], c[1], c[2]}
		} else {
			a.diag.Record(diag.KindEventField, "point", fmt.Errorf("physics: unreadable point %s", raw.Type()))
		}
	}

	out.Normal = DefaultNormal
	if raw, ok := a.probe.get(ev, "event.normal", normalNames); ok {
		if c, ok := decodeVec(raw); ok {
			out.Normal = mgl64.Vec3{c[0], c[1], c[2]}
		}
	}

	if raw, ok := a.probe.get(ev, "event.relvel", relVelNames); ok {
		if c, ok := decodeVec(raw); ok {
			out.RelativeVelocity = mgl64.Vec3{c[0], c[1], c[2]}
			out.HasRelativeVelocity = true
		}
	}

	if raw, ok := a.probe.get(ev, "event.impulse", impulseNames); ok {
		if f, ok := toFloat(raw); ok {
			out.Impulse, out.HasImpulse = f, true
		} else if c, ok := decodeVec(raw); ok {
			out.Impulse, out.HasImpulse = mgl64.Vec3{c[0], c[1], c[2]}.Len(), true
		}
	}
	return out, true
}

func (a *Adapter) eventEntities(ev reflect.Value) (Entity, Entity, bool) {
	for _, pair := range handlePairs {
		h1, ok1 := a.probe.get(ev, "event."+pair[0], []string{pair[0]})
		h2, ok2 := a.probe.get(ev, "event."+pair[1], []string{pair[1]})
		if !ok1 || !ok2 {
			continue
		}
		e1, ok1 := a.handles.resolve(h1)
		e2, ok2 := a.handles.resolve(h2)
		if ok1 && ok2 {
			return e1, e2, true
		}
	}

	v := deref(ev)
	if v.IsValid() && (v.Kind() == reflect.Slice || v.Kind() == reflect.Array) && v.Len() >= 2 {
		e1, ok1 := a.handles.resolve(v.Index(0))
		e2, ok2 := a.handles.resolve(v.Index(1))
		if ok1 && ok2 {
			return e1, e2, true
		}
	}
	return Entity{}, Entity{}, false
}

// detectOverlaps is used when the world exposes no contact events. Every
// ball touching a brick within radius plus epsilon yields an event whose
// normal points from the contact point to the ball centre. The impulse is
// the ball's speed, not a mass-aware impulse.
func (a *Adapter) detectOverlaps() []ContactEvent {
	if len(a.balls) == 0 || len(a.bricks) == 0 {
		return nil
	}
	ballIDs := sortedKeys(a.balls)
	brickIDs := sortedKeys(a.bricks)

	var events []ContactEvent
	for _, id := range ballIDs {
		ball := a.balls[id]
		pos, _ := a.probe.readVec(ball.native, "translation", translationNames)
		vel, _ := a.probe.readVec(ball.native, "linvel", linvelNames)
		for _, brickID := range brickIDs {
			brick := a.bricks[brickID]
			point := collide.ClosestPoint(pos, brick.position)
			diff := pos.Sub(point)
			dist := diff.Len()
			if dist > ball.radius+a.epsilon {
				continue
			}
			normal := DefaultNormal
			if dist > 0 {
				normal = diff.Mul(1 / dist)
			}
			events = append(events, ContactEvent{
				BallID:              id,
				BrickID:             brickID,
				Point:               point,
				Normal:              normal,
				Impulse:             vel.Len(),
				HasImpulse:          true,
				RelativeVelocity:    vel,
				HasRelativeVelocity: true,
				Synthetic:           true,
			})
		}
	}
	return events
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
