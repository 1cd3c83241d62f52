package testerclient

import "fmt"

// Phase is the position of a session in the stream state machine.
type Phase int32

const (
	// PhaseBeforeStart waits for the opening status/start frame
	PhaseBeforeStart Phase = iota
	// PhaseStarted accepts msg and noreference frames until status/finish
	PhaseStarted
	// PhaseFinished is reached after status/finish; nothing is dispatched anymore
	PhaseFinished
	// PhaseAborted is reached on any abnormal termination
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseBeforeStart:
		return "before-start"
	case PhaseStarted:
		return "started"
	case PhaseFinished:
		return "finished"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further frames are processed in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseAborted
}

// machine is the per-session state machine. It is not safe for concurrent
// use; frames are fed to it one at a time in arrival order.
type machine struct {
	phase Phase
}

// step validates one raw frame against the current phase and returns the
// event it produces. A non-nil error is a protocol violation; the phase is
// left unchanged in that case and the caller aborts the session.
func (m *machine) step(raw []byte) (Event, error) {
	if m.phase.Terminal() {
		return Event{}, fmt.Errorf("frame received in terminal phase %s", m.phase)
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		if m.phase == PhaseBeforeStart {
			return Event{}, newProtocolError(CodeTypeMismatch, "failed to receive start message", err.Error())
		}
		return Event{}, err
	}
	frame := env.Classify()

	if m.phase == PhaseBeforeStart {
		if frame.Kind != KindStart {
			return Event{}, newProtocolError(CodeTypeMismatch, "failed to receive start message",
				fmt.Sprintf("got %s frame of type %q", frame.Kind, env.Type))
		}
		m.phase = PhaseStarted
		return Event{Kind: EventStarted}, nil
	}

	switch frame.Kind {
	case KindFinish:
		m.phase = PhaseFinished
		return Event{Kind: EventFinished}, nil
	case KindMessages:
		return Event{
			Kind:      EventMessages,
			SessionID: frame.SessionID,
			Messages:  frame.Messages,
		}, nil
	case KindNoReference:
		return Event{
			Kind:         EventNoReference,
			SessionID:    frame.SessionID,
			JUnitVersion: frame.JUnitVersion,
		}, nil
	default:
		return Event{}, newProtocolError(CodeInvalidMessageType, "invalid message type",
			fmt.Sprintf("%s frame of type %q", frame.Kind, env.Type))
	}
}
