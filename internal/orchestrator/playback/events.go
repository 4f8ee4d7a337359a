package playback

// EventKind names a playback state change.
type EventKind string

const (
	EventQueued    EventKind = "queued"
	EventStarted   EventKind = "started"
	EventFinished  EventKind = "finished"
	EventAbandoned EventKind = "abandoned" // cut off by stop or a newer line
	EventPreempted EventKind = "preempted" // cut off by the max-duration guard
	EventDropped   EventKind = "dropped"   // discarded from the backlog before playing
	EventFailed    EventKind = "failed"
)

// Event reports what happened to a task.
type Event struct {
	Kind       EventKind
	Task       Task
	Generation uint64
	Err        error
}

// Observer receives playback events.
type Observer func(Event)
