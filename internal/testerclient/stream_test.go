package testerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgFrame(sessionID string, messages ...string) string {
	raw, _ := json.Marshal(messages)
	return fmt.Sprintf(`{"type":"msg","data":{"session_id":%q,"messages":%s}}`, sessionID, raw)
}

func noRefFrame(sessionID, version string) string {
	return fmt.Sprintf(`{"type":"noreference","data":{"session_id":%q,"junit_version":%q}}`, sessionID, version)
}

// chunkServer writes every chunk followed by a flush. When hold is set the
// handler keeps the response open until the client goes away.
func chunkServer(t *testing.T, hold bool, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != SessionPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, chunk := range chunks {
			_, _ = io.WriteString(w, chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if hold {
			select {
			case <-r.Context().Done():
			case <-time.After(10 * time.Second):
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func lines(frames ...string) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f + "\n"
	}
	return out
}

type recorder struct {
	mu       sync.Mutex
	batches  [][]Message
	versions []string
	cancels  []error
	order    []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnMessages: func(msgs []Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.batches = append(r.batches, msgs)
			r.order = append(r.order, "msg")
		},
		OnNoReference: func(version string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.versions = append(r.versions, version)
			r.order = append(r.order, "noreference")
		},
		OnCancel: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.cancels = append(r.cancels, err)
			r.order = append(r.order, "cancel")
		},
	}
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// TestRunQuerySingleBatch tests start, one message batch and finish
func TestRunQuerySingleBatch(t *testing.T) {
	srv := chunkServer(t, false, lines(startFrame, msgFrame("s1", "m1"), finishFrame)...)
	client := newTestClient(t, srv)

	rec := &recorder{}
	err := client.RunQuery(context.Background(), map[string]string{"focal_method": "add"}, rec.handlers())
	require.NoError(t, err)

	require.Len(t, rec.batches, 1)
	assert.Equal(t, []string{"m1"}, contents(rec.batches[0]))
	assert.Empty(t, rec.cancels)
	assert.Equal(t, 0, client.ActiveSessions())
}

// TestRunQueryNoReference tests the noreference notification
func TestRunQueryNoReference(t *testing.T) {
	srv := chunkServer(t, false, lines(startFrame, noRefFrame("s1", "5"), finishFrame)...)
	client := newTestClient(t, srv)

	rec := &recorder{}
	require.NoError(t, client.RunQuery(context.Background(), nil, rec.handlers()))

	assert.Equal(t, []string{"5"}, rec.versions)
	assert.Empty(t, rec.batches)
	assert.Empty(t, rec.cancels)
}

// TestRunQueryWrongFirstFrame tests that a stream not opened by status/start is cancelled once
func TestRunQueryWrongFirstFrame(t *testing.T) {
	srv := chunkServer(t, false, lines(msgFrame("s1", "m1"), finishFrame)...)
	client := newTestClient(t, srv)

	rec := &recorder{}
	err := client.RunQuery(context.Background(), nil, rec.handlers())
	require.Error(t, err)
	assert.True(t, errors.Is(err, &ProtocolError{Code: CodeTypeMismatch}), "got %v", err)

	require.Len(t, rec.cancels, 1)
	assert.Equal(t, err, rec.cancels[0])
	assert.Empty(t, rec.batches)
	assert.Empty(t, rec.versions)
}

// TestRunQueryGarbageFirstFrame tests that a first chunk that is not JSON counts as a missing start
func TestRunQueryGarbageFirstFrame(t *testing.T) {
	srv := chunkServer(t, false, "hello\n")
	client := newTestClient(t, srv)

	rec := &recorder{}
	err := client.RunQuery(context.Background(), nil, rec.handlers())
	require.Error(t, err)
	assert.True(t, errors.Is(err, &ProtocolError{Code: CodeTypeMismatch}), "got %v", err)
	require.Len(t, rec.cancels, 1)
	assert.Empty(t, rec.batches)
}

// TestRunQueryGarbageAfterStart tests that invalid JSON after start is a malformed frame
func TestRunQueryGarbageAfterStart(t *testing.T) {
	srv := chunkServer(t, false, startFrame+"\n", "hello\n")
	client := newTestClient(t, srv)

	err := client.RunQuery(context.Background(), nil, Handlers{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &ProtocolError{Code: CodeMalformedFrame}), "got %v", err)
}

// TestRunQueryOddMessageUnit tests that a unit with an unexpected role type is passed through
func TestRunQueryOddMessageUnit(t *testing.T) {
	odd := `{"type":"msg","data":{"session_id":"s1","messages":[{"role":5,"content":"x"}]}}`
	srv := chunkServer(t, false, lines(startFrame, odd, finishFrame)...)
	client := newTestClient(t, srv)

	rec := &recorder{}
	require.NoError(t, client.RunQuery(context.Background(), nil, rec.handlers()))

	require.Len(t, rec.batches, 1)
	require.Len(t, rec.batches[0], 1)
	assert.Equal(t, "", rec.batches[0][0].Role)
	assert.Equal(t, "x", rec.batches[0][0].Content)
	assert.JSONEq(t, `{"role":5,"content":"x"}`, string(rec.batches[0][0].Raw))
	assert.Empty(t, rec.cancels)
}

// TestRunQueryPrematureEnd tests a stream that closes after start
func TestRunQueryPrematureEnd(t *testing.T) {
	srv := chunkServer(t, false, lines(startFrame)...)
	client := newTestClient(t, srv)

	rec := &recorder{}
	err := client.RunQuery(context.Background(), nil, rec.handlers())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrematureEnd)
	require.Len(t, rec.cancels, 1)
}

// TestRunQueryTruncatedFrame tests a stream that closes in the middle of a frame
func TestRunQueryTruncatedFrame(t *testing.T) {
	srv := chunkServer(t, false, startFrame+"\n", `{"type":"msg","data":{"sess`)
	client := newTestClient(t, srv)

	err := client.RunQuery(context.Background(), nil, Handlers{})
	assert.ErrorIs(t, err, ErrPrematureEnd)
}

// TestRunQueryOrdering tests that handlers observe frames in arrival order
func TestRunQueryOrdering(t *testing.T) {
	srv := chunkServer(t, false, lines(
		startFrame,
		msgFrame("s1", "a"),
		noRefFrame("s1", "4"),
		msgFrame("s1", "a", "b"),
		msgFrame("s1", "a", "b", "c"),
		finishFrame,
	)...)
	client := newTestClient(t, srv)

	rec := &recorder{}
	require.NoError(t, client.RunQuery(context.Background(), nil, rec.handlers()))

	assert.Equal(t, []string{"msg", "noreference", "msg", "msg"}, rec.order)
	require.Len(t, rec.batches, 3)
	assert.Equal(t, []string{"a", "b", "c"}, contents(rec.batches[2]))
}

// TestRunQueryNothingAfterFinish tests that frames after finish are not dispatched
func TestRunQueryNothingAfterFinish(t *testing.T) {
	srv := chunkServer(t, false, lines(startFrame, finishFrame, msgFrame("s1", "late"), `{"broken`)...)
	client := newTestClient(t, srv)

	rec := &recorder{}
	require.NoError(t, client.RunQuery(context.Background(), nil, rec.handlers()))
	assert.Empty(t, rec.batches)
	assert.Empty(t, rec.cancels)
}

// TestRunQueryFraming tests that chunk boundaries do not affect framing
func TestRunQueryFraming(t *testing.T) {
	stream := strings.Join(lines(startFrame, msgFrame("s1", "m1"), msgFrame("s1", "m1", "m2"), finishFrame), "")

	t.Run("coalesced", func(t *testing.T) {
		srv := chunkServer(t, false, stream)
		client := newTestClient(t, srv)

		rec := &recorder{}
		require.NoError(t, client.RunQuery(context.Background(), nil, rec.handlers()))
		require.Len(t, rec.batches, 2)
	})

	t.Run("split", func(t *testing.T) {
		var chunks []string
		for i := 0; i < len(stream); i += 7 {
			end := i + 7
			if end > len(stream) {
				end = len(stream)
			}
			chunks = append(chunks, stream[i:end])
		}
		srv := chunkServer(t, false, chunks...)
		client := newTestClient(t, srv)

		rec := &recorder{}
		require.NoError(t, client.RunQuery(context.Background(), nil, rec.handlers()))
		require.Len(t, rec.batches, 2)
		assert.Equal(t, []string{"m1", "m2"}, contents(rec.batches[1]))
	})

	t.Run("without newlines", func(t *testing.T) {
		srv := chunkServer(t, false, startFrame, msgFrame("s1", "m1"), finishFrame)
		client := newTestClient(t, srv)

		rec := &recorder{}
		require.NoError(t, client.RunQuery(context.Background(), nil, rec.handlers()))
		require.Len(t, rec.batches, 1)
	})
}

// TestRunQueryViolations tests that violations after start abort the session
func TestRunQueryViolations(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantCode string
	}{
		{name: "unknown type", frame: `{"type":"progress","data":{"pct":1}}`, wantCode: CodeInvalidMessageType},
		{name: "missing data", frame: `{"type":"msg"}`, wantCode: CodeInvalidMessageFormat},
		{name: "invalid json", frame: `{"type":}`, wantCode: CodeMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chunkServer(t, false, lines(startFrame, msgFrame("s1", "m1"), tt.frame, msgFrame("s1", "m2"), finishFrame)...)
			client := newTestClient(t, srv)

			rec := &recorder{}
			err := client.RunQuery(context.Background(), nil, rec.handlers())
			require.Error(t, err)
			assert.True(t, errors.Is(err, &ProtocolError{Code: tt.wantCode}), "got %v", err)
			assert.Len(t, rec.batches, 1)
			assert.Len(t, rec.cancels, 1)
		})
	}
}

// TestRunQueryStatusError tests a non-2xx answer to the session request
func TestRunQueryStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	client := newTestClient(t, srv)

	rec := &recorder{}
	err := client.RunQuery(context.Background(), nil, rec.handlers())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Len(t, rec.cancels, 1)
}

// TestRunQueryTransportError tests an unreachable service
func TestRunQueryTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client := newTestClient(t, srv)
	srv.Close()

	rec := &recorder{}
	err := client.RunQuery(context.Background(), nil, rec.handlers())
	assert.True(t, IsTransportError(err), "got %v", err)
	assert.Len(t, rec.cancels, 1)
}

// TestRunQueryIdleTimeout tests that a silent stream is aborted
func TestRunQueryIdleTimeout(t *testing.T) {
	srv := chunkServer(t, true, lines(startFrame, msgFrame("s1", "m1"))...)
	client := newTestClient(t, srv, func(c *Config) {
		c.IdleTimeout = 100 * time.Millisecond
	})

	rec := &recorder{}
	start := time.Now()
	err := client.RunQuery(context.Background(), nil, rec.handlers())
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, rec.batches, 1)
	assert.Len(t, rec.cancels, 1)
}

// TestRunQueryContextCancel tests cancellation through the caller context
func TestRunQueryContextCancel(t *testing.T) {
	srv := chunkServer(t, true, lines(startFrame)...)
	client := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	rec := &recorder{}
	err := client.RunQuery(ctx, nil, rec.handlers())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, rec.cancels, 1)
}

// TestSessionCancel tests tearing a running session down
func TestSessionCancel(t *testing.T) {
	srv := chunkServer(t, true, lines(startFrame, msgFrame("s1", "m1"))...)
	client := newTestClient(t, srv)

	got := make(chan struct{})
	var cancels int
	var mu sync.Mutex
	s := client.Start(context.Background(), nil, Handlers{
		OnMessages: func([]Message) { close(got) },
		OnCancel: func(error) {
			mu.Lock()
			cancels++
			mu.Unlock()
		},
	})
	assert.NotEmpty(t, s.ID())

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("no messages received")
	}
	assert.Equal(t, PhaseStarted, s.Phase())
	assert.Nil(t, s.Err())

	s.Cancel()
	s.Cancel()
	err := s.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, err, s.Err())
	assert.Equal(t, PhaseAborted, s.Phase())

	mu.Lock()
	assert.Equal(t, 1, cancels)
	mu.Unlock()
}

// TestSessionFinishedPhase tests the phase of a gracefully finished session
func TestSessionFinishedPhase(t *testing.T) {
	srv := chunkServer(t, false, lines(startFrame, finishFrame)...)
	client := newTestClient(t, srv)

	s := client.Start(context.Background(), nil, Handlers{})
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.NoError(t, s.Err())
	assert.Equal(t, PhaseFinished, s.Phase())

	s.Cancel()
	assert.NoError(t, s.Wait())
}

// TestSessionHandlerPanic tests that a panicking handler still resolves the session
func TestSessionHandlerPanic(t *testing.T) {
	srv := chunkServer(t, false, lines(startFrame, msgFrame("s1", "m1"), finishFrame)...)
	client := newTestClient(t, srv)

	rec := &recorder{}
	handlers := rec.handlers()
	handlers.OnMessages = func([]Message) { panic("boom") }

	err := client.RunQuery(context.Background(), nil, handlers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, rec.cancels, 1)
}

// TestClientCloseCancelsSessions tests that closing the client aborts running sessions
func TestClientCloseCancelsSessions(t *testing.T) {
	srv := chunkServer(t, true, lines(startFrame)...)
	client := newTestClient(t, srv)

	rec := &recorder{}
	s := client.Start(context.Background(), nil, rec.handlers())
	require.Eventually(t, func() bool { return s.Phase() == PhaseStarted }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, s.Wait(), context.Canceled)

	err := client.RunQuery(context.Background(), nil, rec.handlers())
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.Len(t, rec.cancels, 2)
}

// TestConcurrentSessions tests that sessions of one client do not share state
func TestConcurrentSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Type string `json:"type"`
			Data struct {
				ID int `json:"id"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil || env.Type != TypeQuery {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		flusher := w.(http.Flusher)
		id := fmt.Sprintf("session-%d", env.Data.ID)
		for _, frame := range lines(startFrame, msgFrame(id, id), finishFrame) {
			_, _ = io.WriteString(w, frame)
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()
	client := newTestClient(t, srv)

	const n = 8
	var wg sync.WaitGroup
	results := make([][]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.RunQuery(context.Background(), map[string]int{"id": i}, Handlers{
				OnMessages: func(msgs []Message) {
					results[i] = append(results[i], contents(msgs)...)
				},
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{fmt.Sprintf("session-%d", i)}, results[i])
	}
}

// TestQueryEvents tests the event sequence of a complete session
func TestQueryEvents(t *testing.T) {
	srv := chunkServer(t, false, lines(startFrame, msgFrame("s1", "m1"), noRefFrame("s1", "5"), finishFrame)...)
	client := newTestClient(t, srv)

	var kinds []EventKind
	requestIDs := map[string]bool{}
	for ev := range client.Query(context.Background(), nil) {
		kinds = append(kinds, ev.Kind)
		requestIDs[ev.RequestID] = true
		if ev.Kind == EventMessages {
			assert.Equal(t, "s1", ev.SessionID)
		}
	}
	assert.Equal(t, []EventKind{EventStarted, EventMessages, EventNoReference, EventFinished}, kinds)
	require.Len(t, requestIDs, 1)
	assert.NotContains(t, requestIDs, "")
}

// TestQueryFailure tests that the sequence ends with EventFailed on violations
func TestQueryFailure(t *testing.T) {
	srv := chunkServer(t, false, lines(noRefFrame("s1", "5"))...)
	client := newTestClient(t, srv)

	var events []Event
	for ev := range client.Query(context.Background(), nil) {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Kind)
	assert.True(t, events[0].Terminal())
	assert.True(t, errors.Is(events[0].Err, &ProtocolError{Code: CodeTypeMismatch}))
	assert.NotEmpty(t, events[0].RequestID)
}

// TestQueryBreak tests that leaving the loop early closes the connection
func TestQueryBreak(t *testing.T) {
	srv := chunkServer(t, true, lines(startFrame, msgFrame("s1", "m1"), msgFrame("s1", "m1", "m2"))...)
	client := newTestClient(t, srv)

	var seen int
	for ev := range client.Query(context.Background(), nil) {
		if ev.Kind == EventMessages {
			seen++
			break
		}
	}
	assert.Equal(t, 1, seen)
	assert.Equal(t, 0, client.ActiveSessions())
}
