package bus

import "time"

// Event types published by the frame loop.
const (
	TypeFrame           = "frame"
	TypeContact         = "contact"
	TypeHit             = "hit"
	TypeRuntimeDisabled = "runtime.disabled"
	TypeDiagnostic      = "diagnostic"

	// TypeAll subscribes to every event type.
	TypeAll = "*"
)

// EventBus is an in-process pub/sub bus for simulation events.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type, or to TypeAll.
// - Synchronous delivery: Publish calls handlers in the caller goroutine, so
// handlers run on the frame loop and must be quick.
// - Error aggregation: handler errors are joined and returned from Publish.
// - Optional observability: metrics are produced only when observers are registered.
//
// All methods are safe for concurrent use.
type EventBus interface {
	// Publish delivers the event to all active subscribers of its type and of TypeAll.
	Publish(event Event) error
	// PublishBatch publishes events in order and joins the errors across them.
	PublishBatch(events ...Event) error
	// PublishWithFilters drops the event silently if any filter rejects it.
	PublishWithFilters(event Event, filters ...EventFilter) error

	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe is safe to call with nil.
	Unsubscribe(Subscription) error

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	// GetMetrics returns a snapshot; counters only move while an observer is registered.
	GetMetrics() EventBusMetrics
}

// Event is one simulation occurrence. Frame is the frame counter of the
// loop that produced it, zero outside a frame.
type Event struct {
	Type   string
	Source string
	Frame  uint64
	At     time.Time
	Data   any
}

// NewEvent stamps an event with the current time.
func NewEvent(typ, source string, frame uint64, data any) Event {
	return Event{Type: typ, Source: source, Frame: frame, At: time.Now(), Data: data}
}

type (
	EventHandler func(event Event) error
	EventFilter  func(event Event) bool
)

// Subscription is a registered handler. Cancel may be called more than once.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	Cancel() error
}

// EventBusObserver is notified about deliveries. Observers should return quickly.
type EventBusObserver interface {
	OnPublish(eventType string, event Event)
	OnDelivered(eventType string, handlers int, err error, took time.Duration)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	DroppedByFilters  uint64
	SubscribersActive uint64
}
