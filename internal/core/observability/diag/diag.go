// Package diag collects the failures that the frame loop must never see:
// swallowed probe errors, recovered worker panics, runtime degradations.
// Each failure is recorded once, counted per kind and logged at debug level.
package diag

import (
	"sync"
	"time"

	"github.com/zeusync/ballphys/internal/core/observability/log"
)

// Kind classifies a recorded failure.
type Kind string

const (
	KindProbe           Kind = "probe"
	KindImpulse         Kind = "impulse"
	KindEventField      Kind = "event_field"
	KindEventSource     Kind = "event_source"
	KindDispose         Kind = "dispose"
	KindDispatch        Kind = "dispatch"
	KindRuntimeDisabled Kind = "runtime_disabled"
	KindWorker          Kind = "worker"
	KindHandle          Kind = "handle"
)

// Entry is a single recorded failure.
type Entry struct {
	Kind   Kind
	Source string
	Err    error
	At     time.Time
}

// Recorder is what components depend on. A nil Recorder is not allowed; use Discard.
type Recorder interface {
	Record(kind Kind, source string, err error)
}

// Discard drops every entry.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Kind, string, error) {}

const defaultMaxEntries = 256

// Sink keeps the last entries in a bounded ring plus per-kind counters.
type Sink struct {
	mu       sync.Mutex
	entries  []Entry
	next     int
	full     bool
	counts   map[Kind]uint64
	logger   log.Log
	handlers []func(Entry)
}

var _ Recorder = (*Sink)(nil)

func NewSink(logger log.Log, maxEntries int) *Sink {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Sink{
		entries: make([]Entry, maxEntries),
		counts:  make(map[Kind]uint64),
		logger:  log.OrNop(logger).Named("diag"),
	}
}

// OnRecord registers a callback invoked synchronously for each new entry.
func (s *Sink) OnRecord(fn func(Entry)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

func (s *Sink) Record(kind Kind, source string, err error) {
	e := Entry{Kind: kind, Source: source, Err: err, At: time.Now()}

	s.mu.Lock()
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	s.counts[kind]++
	handlers := s.handlers
	s.mu.Unlock()

	s.logger.Debug("diagnostic recorded",
		log.String("kind", string(kind)),
		log.String("source", source),
		log.Error(err))

	for _, h := range handlers {
		h(e)
	}
}

// Count returns how many entries of kind were recorded since creation.
func (s *Sink) Count(kind Kind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

// Recent returns the retained entries, oldest first.
func (s *Sink) Recent() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		out := make([]Entry, s.next)
		copy(out, s.entries[:s.next])
		return out
	}
	out := make([]Entry, 0, len(s.entries))
	out = append(out, s.entries[s.next:]...)
	out = append(out, s.entries[:s.next]...)
	return out
}
