package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/codefionn/intentest/internal/diffview"
	"github.com/codefionn/intentest/internal/testerclient"
)

// Publisher turns session events into web messages and broadcasts them. It
// remembers the latest state so browsers connecting mid-session catch up.
type Publisher struct {
	hub *Hub

	mu       sync.Mutex
	started  *WebMessage
	messages *WebMessage
	noRef    *WebMessage
	diffs    []*WebMessage
	terminal *WebMessage
}

// NewPublisher creates a publisher broadcasting through hub
func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub}
}

// Publish broadcasts one session event.
func (p *Publisher) Publish(ev testerclient.Event) {
	msg := eventMessage(ev)

	p.mu.Lock()
	switch ev.Kind {
	case testerclient.EventStarted:
		// a new session replaces whatever the previous one left behind
		p.started, p.messages, p.noRef, p.diffs, p.terminal = msg, nil, nil, nil, nil
	case testerclient.EventMessages:
		p.messages = msg
	case testerclient.EventNoReference:
		p.noRef = msg
	default:
		p.terminal = msg
	}
	p.mu.Unlock()

	p.hub.Broadcast(msg)
}

// PublishDiff broadcasts a step of the test history.
func (p *Publisher) PublishDiff(sessionID string, d *diffview.Diff) {
	if d == nil {
		return
	}
	msg := &WebMessage{
		Type:      MessageTypeDiff,
		SessionID: sessionID,
		Diff: &DiffInfo{
			Title:    d.Title,
			LeftURI:  d.LeftURI,
			RightURI: d.RightURI,
			Unified:  d.Unified,
			Added:    int(d.Stat.Added),
			Deleted:  int(d.Stat.Deleted),
			Changed:  int(d.Stat.Changed),
		},
		Timestamp: time.Now(),
	}

	p.mu.Lock()
	p.diffs = append(p.diffs, msg)
	p.mu.Unlock()

	p.hub.Broadcast(msg)
}

// Snapshot returns the messages a new browser needs to show the current
// state, in display order.
func (p *Publisher) Snapshot() []*WebMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*WebMessage
	for _, m := range []*WebMessage{p.started, p.messages, p.noRef} {
		if m != nil {
			out = append(out, m)
		}
	}
	out = append(out, p.diffs...)
	if p.terminal != nil {
		out = append(out, p.terminal)
	}
	return out
}

func eventMessage(ev testerclient.Event) *WebMessage {
	msg := &WebMessage{RequestID: ev.RequestID, SessionID: ev.SessionID, Timestamp: time.Now()}
	switch ev.Kind {
	case testerclient.EventStarted:
		msg.Type = MessageTypeStarted
	case testerclient.EventMessages:
		msg.Type = MessageTypeMessages
		msg.Messages = make([]json.RawMessage, 0, len(ev.Messages))
		for _, m := range ev.Messages {
			raw, err := json.Marshal(m)
			if err != nil {
				continue
			}
			msg.Messages = append(msg.Messages, raw)
		}
	case testerclient.EventNoReference:
		msg.Type = MessageTypeNoReference
		msg.JUnitVersion = ev.JUnitVersion
	case testerclient.EventFinished:
		msg.Type = MessageTypeFinished
	default:
		msg.Type = MessageTypeError
		if ev.Err != nil {
			msg.Error = ev.Err.Error()
		}
	}
	return msg
}
