package client

import (
	"fmt"
	"log"
	"time"
)

// pendingRequest tracks one correlated send awaiting its response frame.
// Exactly one outcome is ever delivered on done: the entry is removed from
// the pending map before anything is sent.
type pendingRequest struct {
	id    string
	done  chan requestOutcome
	timer timer
}

type requestOutcome struct {
	res ActionResult
	err error
}

// nextRequestID generates a correlation id unique across reconnects: a
// millisecond timestamp combined with a monotonically incrementing counter.
func (s *Session) nextRequestID() string {
	s.reqCounter++
	return fmt.Sprintf("%d-%d", s.clk.Now().UnixMilli(), s.reqCounter)
}

// SendAction sends a fire-and-forget action. Failures (including not being
// connected) are logged, never returned.
func (s *Session) SendAction(name string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if err := s.send(outboundFrame{Type: FrameAction, Action: name, Payload: payload}); err != nil {
		log.Printf("action %s dropped: %v", name, err)
	}
}

// SendActionWithResponse sends an action carrying a correlation id and blocks
// until the matching action_result arrives, the per-request timeout elapses,
// or the connection drops. timeout <= 0 uses the session default.
func (s *Session) SendActionWithResponse(name string, payload map[string]interface{}, timeout time.Duration) (ActionResult, error) {
	if timeout <= 0 {
		timeout = s.requestTimeout
	}

	// Copy so the injected requestId does not leak into the caller's map.
	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ActionResult{}, ErrNotConnected
	}
	id := s.nextRequestID()
	body["requestId"] = id
	p := &pendingRequest{id: id, done: make(chan requestOutcome, 1)}
	s.pending[id] = p
	p.timer = s.clk.AfterFunc(timeout, func() {
		s.failPending(id, ErrTimeout)
	})
	s.mu.Unlock()

	if err := s.send(outboundFrame{Type: FrameAction, Action: name, Payload: body}); err != nil {
		s.failPending(id, err)
	}

	out := <-p.done
	if out.err != nil {
		return ActionResult{}, out.err
	}
	if !out.res.Success {
		return out.res, out.res.Err()
	}
	return out.res, nil
}

// takePending removes and returns the pending entry for id, or nil if none
// exists. Removal under the lock guarantees at most one resolution.
func (s *Session) takePending(id string) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// takeAllPendingLocked drains the pending map. Caller must hold s.mu.
func (s *Session) takeAllPendingLocked() []*pendingRequest {
	if len(s.pending) == 0 {
		return nil
	}
	taken := make([]*pendingRequest, 0, len(s.pending))
	for id, p := range s.pending {
		delete(s.pending, id)
		if p.timer != nil {
			p.timer.Stop()
		}
		taken = append(taken, p)
	}
	return taken
}

// rejectAll fails a batch of drained requests. Used on disconnect so callers
// see the failure immediately instead of waiting out individual timeouts.
func rejectAll(taken []*pendingRequest, err error) {
	for _, p := range taken {
		p.done <- requestOutcome{err: err}
	}
}

func (s *Session) failPending(id string, err error) {
	if p := s.takePending(id); p != nil {
		p.done <- requestOutcome{err: err}
	}
}

// resolveAction matches an action_result frame to its pending request. A
// result whose correlation id has no pending entry (expired, or a
// fire-and-forget broadcast) is handed to the ActionResult hook instead.
func (s *Session) resolveAction(f *Frame) {
	res := normalizeActionResult(f)

	if res.RequestID != "" {
		if p := s.takePending(res.RequestID); p != nil {
			p.done <- requestOutcome{res: res}
			return
		}
	}

	if s.hooks.ActionResult != nil {
		s.hooks.ActionResult(res)
	}
}

// PendingRequests reports the number of in-flight correlated requests.
func (s *Session) PendingRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
