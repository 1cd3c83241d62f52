// Package testerclient is the client for the local tester service that
// generates JUnit tests for a focal method.
//
// The service speaks JSON over loopback HTTP. Short calls (changing a setting)
// are a single POST answered with a status code. A query is a long-lived POST
// to /session whose response body is a stream of JSON envelopes:
//
//	{"type": "status", "data": {"status": "start"}}
//	{"type": "msg", "data": {"session_id": "s1", "messages": [...]}}
//	{"type": "noreference", "data": {"session_id": "s1", "junit_version": "5"}}
//	{"type": "status", "data": {"status": "finish"}}
//
// # Session phases
//
// Every query runs its own state machine:
//
//   - before-start: the first frame must be status/start, anything else aborts the session
//   - started: msg and noreference frames are dispatched in arrival order until status/finish
//   - finished: the connection is closed, nothing is dispatched anymore
//
// Protocol violations, transport failures, non-2xx statuses, a stream ending
// before finish, the idle timeout and context cancellation all abort the
// session. The abort error is delivered exactly once.
//
// Callback usage
//
//	client, err := testerclient.NewClient(12580)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.RunQuery(ctx, args, testerclient.Handlers{
//	    OnMessages: func(msgs []testerclient.Message) {
//	        for _, m := range msgs {
//	            fmt.Printf("[%s] %s\n", m.Role, m.Content)
//	        }
//	    },
//	    OnNoReference: func(version string) {
//	        fmt.Printf("no reference test, using JUnit %s\n", version)
//	    },
//	    OnCancel: func(err error) {
//	        log.Printf("session aborted: %v", err)
//	    },
//	})
//
// # Event sequence
//
// Query exposes the same session as a sequence of events. The last event is
// either EventFinished or EventFailed:
//
//	for ev := range client.Query(ctx, args) {
//	    switch ev.Kind {
//	    case testerclient.EventMessages:
//	        render(ev.Messages)
//	    case testerclient.EventFailed:
//	        return ev.Err
//	    }
//	}
//
// Breaking out of the loop closes the connection.
//
// # Background sessions
//
// Start returns a *Session immediately. Wait, Done and Err observe completion
// and Cancel tears the connection down:
//
//	s := client.Start(ctx, args, handlers)
//	select {
//	case <-s.Done():
//	case <-time.After(time.Minute):
//	    s.Cancel()
//	}
//	err := s.Wait()
//
// # Errors
//
// Aborts are typed: *ProtocolError (matched by code with errors.Is),
// *StatusError, *TransportError, ErrPrematureEnd, ErrIdleTimeout and the
// context errors.
package testerclient
