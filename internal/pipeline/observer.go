package pipeline

import "time"

// EventKind distinguishes stage notifications.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventFinished EventKind = "finished"
	EventSkipped  EventKind = "skipped"
	EventFailed   EventKind = "failed"
)

// Event reports a stage moving through the run.
type Event struct {
	RunID  string
	Stage  Stage
	Kind   EventKind
	State  State
	Detail string
	Err    error
	At     time.Time
}

// Observer receives stage events. Implementations must not block for long.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

func (r *run) emit(e Event) {
	if r.o.Observer == nil {
		return
	}
	e.RunID = r.rc.RunID
	e.State = r.cp.State
	e.At = r.o.now()
	r.o.Observer.Observe(e)
}
