package web

import (
	"encoding/json"
	"time"
)

// Message types sent to browsers
const (
	MessageTypeHello       = "hello"
	MessageTypeStarted     = "started"
	MessageTypeMessages    = "messages"
	MessageTypeNoReference = "noreference"
	MessageTypeDiff        = "diff"
	MessageTypeFinished    = "finished"
	MessageTypeError       = "error"
)

// Message types sent by browsers
const (
	MessageTypeGetState = "get_state"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// WebMessage represents a message sent over WebSocket
type WebMessage struct {
	Type         string            `json:"type"`
	RequestID    string            `json:"request_id,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	Messages     []json.RawMessage `json:"messages,omitempty"`
	JUnitVersion string            `json:"junit_version,omitempty"`
	Error        string            `json:"error,omitempty"`
	Diff         *DiffInfo         `json:"diff,omitempty"`
	Data         map[string]any    `json:"data,omitempty"`
	Timestamp    time.Time         `json:"timestamp,omitempty"`
}

// DiffInfo carries one step of the test history
type DiffInfo struct {
	Title    string `json:"title"`
	LeftURI  string `json:"left_uri"`
	RightURI string `json:"right_uri"`
	Unified  string `json:"unified"`
	Added    int    `json:"added"`
	Deleted  int    `json:"deleted"`
	Changed  int    `json:"changed"`
}
