package testerclient

// EventKind tags the events produced by a session.
type EventKind int

const (
	// EventStarted is emitted once the service acknowledged the query
	EventStarted EventKind = iota
	// EventMessages carries a batch of message units in display order
	EventMessages
	// EventNoReference reports that the service runs without a reference test
	EventNoReference
	// EventFinished is the graceful end of the session
	EventFinished
	// EventFailed is the abnormal end of the session; Err is set
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventMessages:
		return "messages"
	case EventNoReference:
		return "noreference"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one step of a query session.
//
// RequestID identifies the query on the client side and is set on every
// event, including EventStarted which precedes any service session id.
type Event struct {
	Kind         EventKind
	RequestID    string
	SessionID    string
	Messages     []Message
	JUnitVersion string
	Err          error
}

// Terminal reports whether the event ends the session.
func (e Event) Terminal() bool {
	return e.Kind == EventFinished || e.Kind == EventFailed
}

// Handlers receive the events of a session started with Client.Start or
// Client.RunQuery. All handlers are optional and are called from a single
// goroutine in arrival order.
type Handlers struct {
	// OnMessages receives every message batch
	OnMessages func(messages []Message)
	// OnNoReference receives the JUnit version the service fell back to
	OnNoReference func(junitVersion string)
	// OnCancel receives the error of an abnormal termination, exactly once
	OnCancel func(err error)
}
