package client

import (
	"encoding/json"
	"log"
)

// SubscriptionState tracks the log-stream subscription lifecycle.
type SubscriptionState int

const (
	// SubNone: no subscription active.
	SubNone SubscriptionState = iota
	// SubPending: subscribe frame sent, awaiting confirmation.
	SubPending
	// SubActive: confirmation received, build id bound.
	SubActive
)

// Subscription is the single active log-stream target. RequestedBuildID is
// what the client asked for (may be empty, meaning "latest"); BuildID is what
// the server bound, once confirmed.
type Subscription struct {
	ProjectPath      string
	Target           string
	RequestedBuildID string
	BuildID          string
	Filters          LogFilters
}

// maxBufferedEntries caps the local log buffer; the server re-streams from
// its own storage on any subscribe, so old entries are droppable.
const maxBufferedEntries = 5000

// Subscribe starts (or replaces) the log-stream subscription. Any buffered
// entries and the sequence counter are cleared first: the server is the
// source of truth and re-streams everything matching the filter from the
// beginning. buildID may be empty to ask for the latest build of the target.
func (s *Session) Subscribe(projectPath, target string, filters LogFilters, buildID string) error {
	if filters.MinLevel == "" {
		filters.MinLevel = "INFO"
	}
	if filters.Stages == nil {
		filters.Stages = []string{}
	}

	s.mu.Lock()
	s.sub = &Subscription{
		ProjectPath:      projectPath,
		Target:           target,
		RequestedBuildID: buildID,
		Filters:          filters,
	}
	s.subState = SubPending
	s.entries = nil
	s.lastSeenID = 0
	frame := s.subscribeFrameLocked()
	s.mu.Unlock()

	return s.send(frame)
}

// subscribeFrameLocked builds the subscribe_logs frame from the current
// subscription. Caller must hold s.mu and have set s.sub.
func (s *Session) subscribeFrameLocked() outboundFrame {
	return outboundFrame{
		Type: FrameSubscribeLogs,
		Data: subscribePayload{
			ProjectPath: s.sub.ProjectPath,
			Target:      s.sub.Target,
			BuildID:     s.sub.RequestedBuildID,
			MinLevel:    s.sub.Filters.MinLevel,
			Stages:      s.sub.Filters.Stages,
		},
	}
}

// UpdateFilters mutates the active subscription's filters and sends an
// update_filters frame. The buffer and sequence counter reset because the
// server re-streams from the beginning under the new filter. With no active
// subscription this is a no-op and no frame is sent.
func (s *Session) UpdateFilters(filters LogFilters) error {
	if filters.Stages == nil {
		filters.Stages = []string{}
	}

	s.mu.Lock()
	if s.sub == nil {
		s.mu.Unlock()
		return nil
	}
	if filters.MinLevel == "" {
		filters.MinLevel = s.sub.Filters.MinLevel
	}
	s.sub.Filters = filters
	s.entries = nil
	s.lastSeenID = 0
	s.mu.Unlock()

	return s.send(outboundFrame{Type: FrameUpdateFilters, Data: filters})
}

// Unsubscribe stops the log stream and clears all local subscription state.
func (s *Session) Unsubscribe() error {
	s.mu.Lock()
	hadSub := s.sub != nil
	s.sub = nil
	s.subState = SubNone
	s.entries = nil
	s.lastSeenID = 0
	s.mu.Unlock()

	if !hadSub {
		return nil
	}
	return s.send(outboundFrame{Type: FrameUnsubscribeLogs, Data: map[string]interface{}{}})
}

// resubscribe re-issues the original subscribe frame after a reconnect. It is
// a fresh subscribe, not a filter update, so the server treats it as a new
// subscription and binds (or re-confirms) a build id. This covers builds
// whose id was unknown at the time of the original subscribe.
func (s *Session) resubscribe() {
	s.mu.Lock()
	if s.sub == nil {
		s.mu.Unlock()
		return
	}
	s.subState = SubPending
	s.entries = nil
	s.lastSeenID = 0
	frame := s.subscribeFrameLocked()
	s.mu.Unlock()

	if err := s.send(frame); err != nil {
		log.Printf("resubscribe failed: %v", err)
	}
}

func (s *Session) handleSubscribed(data json.RawMessage) {
	var p SubscribedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("subscribed frame dropped: %v", err)
		return
	}

	s.mu.Lock()
	if s.sub == nil {
		s.mu.Unlock()
		return
	}
	s.sub.BuildID = p.BuildID
	s.subState = SubActive
	s.mu.Unlock()

	if s.hooks.Subscribed != nil {
		s.hooks.Subscribed(p)
	}
}

// handleSubscriptionError surfaces the failure and drops back to
// Unsubscribed. No automatic retry: the caller decides.
func (s *Session) handleSubscriptionError(data json.RawMessage) {
	var p SubscriptionErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("subscription_error frame dropped: %v", err)
		return
	}

	s.mu.Lock()
	s.sub = nil
	s.subState = SubNone
	s.mu.Unlock()

	log.Printf("subscription error: %s", p.Message)
	if s.hooks.SubscriptionError != nil {
		s.hooks.SubscriptionError(p)
	}
}

// handleLogBatch appends a batch to the local buffer in arrival order and
// records the last delivered sequence id. Batches arriving with no
// subscription (e.g. right after an unsubscribe) are dropped.
func (s *Session) handleLogBatch(data json.RawMessage) {
	var p LogBatchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("log_batch frame dropped: %v", err)
		return
	}

	s.mu.Lock()
	if s.sub == nil {
		s.mu.Unlock()
		return
	}
	s.entries = append(s.entries, p.Logs...)
	if len(s.entries) > maxBufferedEntries {
		s.entries = s.entries[len(s.entries)-maxBufferedEntries:]
	}
	s.lastSeenID = p.LastID
	s.mu.Unlock()

	if s.hooks.LogBatch != nil {
		s.hooks.LogBatch(p)
	}
}

// ActiveSubscription returns a copy of the current subscription, or nil.
func (s *Session) ActiveSubscription() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	sub := *s.sub
	return &sub
}

// SubscriptionStatus returns the subscription lifecycle state.
func (s *Session) SubscriptionStatus() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subState
}

// Entries returns a copy of the buffered log entries in arrival order.
func (s *Session) Entries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// LastSeenID reports the last delivered sequence id. Informational only; the
// client never reorders and does not detect gaps.
func (s *Session) LastSeenID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenID
}
