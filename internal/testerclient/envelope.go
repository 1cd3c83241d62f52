package testerclient

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope kinds sent by the tester service.
const (
	TypeStatus      = "status"
	TypeMessages    = "msg"
	TypeNoReference = "noreference"
)

// Status values carried by a status envelope.
const (
	StatusStart  = "start"
	StatusFinish = "finish"
)

// Envelope is one discrete frame of the session stream.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StatusData is the payload of a status envelope.
type StatusData struct {
	Status string `json:"status"`
}

// MessagesData is the payload of a msg envelope.
type MessagesData struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

// NoReferenceData is the payload of a noreference envelope.
type NoReferenceData struct {
	SessionID    string `json:"session_id"`
	JUnitVersion string `json:"junit_version"`
}

// Message is a single unit of content produced by the service. The service
// usually sends chat turns ({"role": ..., "content": ...}), but any JSON value
// is accepted and kept verbatim in Raw.
type Message struct {
	Role    string
	Content string
	Raw     json.RawMessage
}

// UnmarshalJSON accepts chat turn objects, bare strings and arbitrary values.
func (m *Message) UnmarshalJSON(data []byte) error {
	m.Raw = append(json.RawMessage(nil), data...)
	m.Role = ""
	m.Content = ""

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &m.Content)
	case '{':
		var turn struct {
			Role    json.RawMessage `json:"role"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(trimmed, &turn); err != nil {
			return err
		}
		// a role that is not a string leaves the unit roleless, Raw keeps it
		var role string
		if json.Unmarshal(turn.Role, &role) == nil {
			m.Role = role
		}
		if len(turn.Content) > 0 {
			var text string
			if err := json.Unmarshal(turn.Content, &text); err == nil {
				m.Content = text
			} else {
				m.Content = string(turn.Content)
			}
		}
	}
	return nil
}

// MarshalJSON writes the original value back when one is known.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	if m.Role == "" {
		return json.Marshal(m.Content)
	}
	return json.Marshal(map[string]string{"role": m.Role, "content": m.Content})
}

// Kind classifies a decoded frame.
type Kind int

const (
	// KindUnknown is any envelope this client cannot interpret
	KindUnknown Kind = iota
	// KindStart is the opening status frame
	KindStart
	// KindFinish is the closing status frame
	KindFinish
	// KindMessages carries a batch of message units
	KindMessages
	// KindNoReference signals a run without a reference test
	KindNoReference
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindFinish:
		return "finish"
	case KindMessages:
		return "messages"
	case KindNoReference:
		return "noreference"
	default:
		return "unknown"
	}
}

// Frame is an envelope classified into one of the known kinds.
type Frame struct {
	Kind         Kind
	Envelope     Envelope
	Status       string
	SessionID    string
	Messages     []Message
	JUnitVersion string
}

// NewEnvelope builds an envelope from a type tag and a payload.
func NewEnvelope(msgType string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return &Envelope{Type: msgType, Data: raw}, nil
}

// ParseEnvelope decodes one JSON frame. Frames that are not JSON objects or
// lack either the type tag or the payload are reported as protocol errors.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newProtocolError(CodeMalformedFrame, "frame is not a JSON envelope", err.Error())
	}
	if env.Type == "" || !hasPayload(env.Data) {
		return nil, newProtocolError(CodeInvalidMessageFormat, "envelope requires type and data", string(data))
	}
	return &env, nil
}

// Classify decodes the payload according to the envelope type. Payloads that
// do not match the shape required for their type yield KindUnknown.
func (e *Envelope) Classify() Frame {
	frame := Frame{Kind: KindUnknown, Envelope: *e}

	switch e.Type {
	case TypeStatus:
		var status StatusData
		if err := json.Unmarshal(e.Data, &status); err != nil {
			return frame
		}
		frame.Status = status.Status
		switch status.Status {
		case StatusStart:
			frame.Kind = KindStart
		case StatusFinish:
			frame.Kind = KindFinish
		}

	case TypeMessages:
		var payload struct {
			SessionID string          `json:"session_id"`
			Messages  json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			return frame
		}
		if payload.SessionID == "" || !hasPayload(payload.Messages) {
			return frame
		}
		var messages []Message
		if err := json.Unmarshal(payload.Messages, &messages); err != nil {
			return frame
		}
		frame.Kind = KindMessages
		frame.SessionID = payload.SessionID
		frame.Messages = messages

	case TypeNoReference:
		var payload NoReferenceData
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			return frame
		}
		if payload.SessionID == "" {
			return frame
		}
		frame.Kind = KindNoReference
		frame.SessionID = payload.SessionID
		frame.JUnitVersion = payload.JUnitVersion
	}

	return frame
}

func hasPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
