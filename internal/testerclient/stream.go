package testerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/intentest/internal/logger"
	"github.com/google/uuid"
)

// errStopped is returned by the stream loop when the consumer stopped
// iterating. It never reaches callers.
var errStopped = errors.New("session consumer stopped")

// Session is one streaming query. It is created by Client.Start and resolves
// exactly once, either with nil after status/finish or with the error that
// aborted it.
type Session struct {
	id       string
	client   *Client
	args     interface{}
	handlers Handlers

	phase  atomic.Int32
	cancel context.CancelFunc

	once sync.Once
	done chan struct{}
	err  error
}

func (c *Client) newSession(args interface{}, handlers Handlers) *Session {
	return &Session{
		id:       uuid.New().String(),
		client:   c,
		args:     args,
		handlers: handlers,
		done:     make(chan struct{}),
	}
}

// ID returns the request id sent in the X-Request-ID header.
func (s *Session) ID() string {
	return s.id
}

// Phase returns the current phase of the session.
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

// Done is closed once the session has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the completion error. It is nil while the session is running and
// after a graceful finish.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the session completes and returns its error.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Cancel tears the connection down. The session resolves with
// context.Canceled unless it already completed.
func (s *Session) Cancel() {
	s.cancel()
}

func (s *Session) complete(err error) {
	s.once.Do(func() {
		defer close(s.done)
		s.err = err
		if err == nil {
			logger.Debug("testerclient: session %s finished", s.id)
			return
		}

		s.phase.Store(int32(PhaseAborted))
		logger.Warn("testerclient: session %s aborted: %v", s.id, err)
		if s.handlers.OnCancel != nil {
			s.handlers.OnCancel(err)
		}
	})
}

func (s *Session) dispatch(ev Event) bool {
	switch ev.Kind {
	case EventMessages:
		if s.handlers.OnMessages != nil {
			s.handlers.OnMessages(ev.Messages)
		}
	case EventNoReference:
		if s.handlers.OnNoReference != nil {
			s.handlers.OnNoReference(ev.JUnitVersion)
		}
	}
	return true
}

// Start opens a query session and returns immediately. Handlers are invoked
// from the session goroutine in arrival order.
func (c *Client) Start(ctx context.Context, args interface{}, handlers Handlers) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := c.newSession(args, handlers)
	s.cancel = cancel
	if !c.track(s) {
		cancel()
		s.complete(ErrClientClosed)
		return s
	}

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("session handler panicked: %v", r)
			}
			cancel()
			c.untrack(s)
			s.complete(err)
		}()
		err = s.stream(ctx, s.dispatch)
	}()

	return s
}

// RunQuery runs a query session to completion. It returns nil after
// status/finish and the cancellation error otherwise; OnCancel receives the
// same error.
func (c *Client) RunQuery(ctx context.Context, args interface{}, handlers Handlers) error {
	return c.Start(ctx, args, handlers).Wait()
}

// Query returns the events of a new query session as a sequence. Every
// iteration opens its own session. The sequence ends with EventFinished or
// EventFailed; breaking out of the loop early tears the connection down.
func (c *Client) Query(ctx context.Context, args interface{}) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		s := c.newSession(args, Handlers{})
		s.cancel = cancel
		if !c.track(s) {
			s.complete(ErrClientClosed)
			yield(Event{Kind: EventFailed, RequestID: s.id, Err: ErrClientClosed})
			return
		}
		defer c.untrack(s)

		err := s.stream(ctx, yield)
		if errors.Is(err, errStopped) {
			s.complete(nil)
			return
		}
		s.complete(err)
		if err != nil {
			yield(Event{Kind: EventFailed, RequestID: s.id, Err: err})
		}
	}
}

type frameResult struct {
	raw json.RawMessage
	err error
}

// stream runs the request and feeds every frame through the state machine.
// It returns nil after status/finish, errStopped when emit returned false and
// the aborting error otherwise. Returning closes the response body.
func (s *Session) stream(ctx context.Context, emit func(Event) bool) error {
	c := s.client

	env, err := NewEnvelope(TypeQuery, s.args)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, SessionPath, env, s.id)
	if err != nil {
		return err
	}

	logger.Debug("testerclient: POST %s request_id=%s", SessionPath, s.id)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		terr := &TransportError{Op: "POST " + SessionPath, Err: err}
		logger.Error("testerclient: %v", terr)
		return terr
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		serr := statusError(SessionPath, resp)
		logger.Error("testerclient: %v", serr)
		return serr
	}

	frames := make(chan frameResult)
	stop := make(chan struct{})
	defer close(stop)
	go readFrames(resp.Body, frames, stop)

	var idle <-chan time.Time
	var timer *time.Timer
	if c.config.IdleTimeout > 0 {
		timer = time.NewTimer(c.config.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	m := &machine{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idle:
			logger.Warn("testerclient: session %s idle for %s in phase %s", s.id, c.config.IdleTimeout, m.phase)
			return ErrIdleTimeout

		case fr := <-frames:
			if fr.err != nil {
				return s.readError(ctx, m.phase, fr.err)
			}
			if timer != nil {
				timer.Reset(c.config.IdleTimeout)
			}

			logger.Debug("testerclient: session %s frame: %s", s.id, fr.raw)
			ev, err := m.step(fr.raw)
			if err != nil {
				return err
			}
			s.phase.Store(int32(m.phase))
			ev.RequestID = s.id

			if !emit(ev) {
				return errStopped
			}
			if m.phase == PhaseFinished {
				return nil
			}
		}
	}
}

func (s *Session) readError(ctx context.Context, phase Phase, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w (phase %s)", ErrPrematureEnd, phase)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		if phase == PhaseBeforeStart {
			return newProtocolError(CodeTypeMismatch, "failed to receive start message", syntaxErr.Error())
		}
		return newProtocolError(CodeMalformedFrame, "frame is not valid JSON", syntaxErr.Error())
	}

	terr := &TransportError{Op: "read " + SessionPath, Err: err}
	logger.Error("testerclient: %v", terr)
	return terr
}

// readFrames decodes consecutive JSON values from r until an error occurs.
// Chunk boundaries do not matter: a frame split across reads is reassembled
// and several frames in one read are split apart.
func readFrames(r io.Reader, frames chan<- frameResult, stop <-chan struct{}) {
	dec := json.NewDecoder(r)
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)

		select {
		case frames <- frameResult{raw: raw, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}
