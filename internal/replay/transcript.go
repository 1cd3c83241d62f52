package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/codefionn/intentest/internal/consts"
	"github.com/codefionn/intentest/internal/testerclient"
)

// Transcript is the scripted frame sequence a replay server streams for every
// query session.
type Transcript struct {
	Frames []json.RawMessage
}

// NewTranscript builds a transcript from frames.
func NewTranscript(frames ...json.RawMessage) *Transcript {
	return &Transcript{Frames: frames}
}

// LoadTranscript reads a JSON-lines transcript. Blank lines are skipped and
// every other line must be a single JSON value.
func LoadTranscript(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	t, err := ReadTranscript(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadTranscript parses JSON-lines frames from r.
func ReadTranscript(r io.Reader) (*Transcript, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, consts.BufferSize64KB), consts.BufferSize1MB)

	t := &Transcript{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("line %d is not valid JSON", lineNo)
		}
		t.Frames = append(t.Frames, append(json.RawMessage(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return t, nil
}

// WriteTo writes the transcript as JSON lines.
func (t *Transcript) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, frame := range t.Frames {
		var buf bytes.Buffer
		if err := json.Compact(&buf, frame); err != nil {
			return total, err
		}
		buf.WriteByte('\n')
		n, err := w.Write(buf.Bytes())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Save writes the transcript to path.
func (t *Transcript) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func mustFrame(msgType string, data interface{}) json.RawMessage {
	env, err := testerclient.NewEnvelope(msgType, data)
	if err != nil {
		panic(err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return raw
}

// StartFrame returns the status/start frame.
func StartFrame() json.RawMessage {
	return mustFrame(testerclient.TypeStatus, testerclient.StatusData{Status: testerclient.StatusStart})
}

// FinishFrame returns the status/finish frame.
func FinishFrame() json.RawMessage {
	return mustFrame(testerclient.TypeStatus, testerclient.StatusData{Status: testerclient.StatusFinish})
}

// MessagesFrame returns a msg frame carrying messages.
func MessagesFrame(sessionID string, messages ...testerclient.Message) json.RawMessage {
	if messages == nil {
		messages = []testerclient.Message{}
	}
	return mustFrame(testerclient.TypeMessages, testerclient.MessagesData{
		SessionID: sessionID,
		Messages:  messages,
	})
}

// NoReferenceFrame returns a noreference frame.
func NoReferenceFrame(sessionID, junitVersion string) json.RawMessage {
	return mustFrame(testerclient.TypeNoReference, testerclient.NoReferenceData{
		SessionID:    sessionID,
		JUnitVersion: junitVersion,
	})
}

// Conversation builds the frames of a session whose history grows by one
// turn per msg frame, the way the tester service resends the full history.
func Conversation(sessionID string, turns ...testerclient.Message) *Transcript {
	t := NewTranscript(StartFrame())
	for i := range turns {
		t.Frames = append(t.Frames, MessagesFrame(sessionID, turns[:i+1]...))
	}
	t.Frames = append(t.Frames, FinishFrame())
	return t
}
