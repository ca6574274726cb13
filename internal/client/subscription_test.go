package client

import (
	"encoding/json"
	"errors"
	"testing"
)

func activeSession(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	s, _, dialer := newTestSession(Hooks{}, nil)
	s.Connect()
	return s, dialer.lastConn(t)
}

// subscribeActive puts the session into a confirmed subscription without
// going through the read loop.
func subscribeActive(t *testing.T, s *Session, buildID string) {
	t.Helper()
	if err := s.Subscribe("/work/amp", "board", LogFilters{}, ""); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s.handleSubscribed(mustJSON(t, SubscribedPayload{
		BuildID:     buildID,
		ProjectPath: "/work/amp",
		Target:      "board",
	}))
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestSubscribeDefaultsAndFrame(t *testing.T) {
	s, conn := activeSession(t)

	if err := s.Subscribe("/work/amp", "board", LogFilters{}, ""); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if s.SubscriptionStatus() != SubPending {
		t.Fatalf("expected SubPending, got %v", s.SubscriptionStatus())
	}

	frames := conn.sentFrames(t)
	if len(frames) != 1 || frames[0].Type != FrameSubscribeLogs {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	var p subscribePayload
	if err := json.Unmarshal(frames[0].Data, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.MinLevel != "INFO" {
		t.Errorf("default min_level = %q, want INFO", p.MinLevel)
	}
	if p.Stages == nil {
		t.Error("stages must serialize as an empty list, not null")
	}
	if p.BuildID != "" {
		t.Errorf("build_id = %q, want empty (latest)", p.BuildID)
	}
}

func TestSubscribeReplacesAndResets(t *testing.T) {
	s, _ := activeSession(t)
	subscribeActive(t, s, "b-1")

	s.handleLogBatch(mustJSON(t, LogBatchPayload{
		Logs:   []LogEntry{{ID: 41, Message: "one"}, {ID: 42, Message: "two"}},
		LastID: 42,
		Count:  2,
	}))
	if got := s.LastSeenID(); got != 42 {
		t.Fatalf("lastSeenID = %d, want 42", got)
	}

	// A fresh subscribe is a full reset: buffer and sequence counter go back
	// to zero before the frame even goes out.
	if err := s.Subscribe("/work/psu", "board", LogFilters{MinLevel: "DEBUG"}, "b-2"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if n := len(s.Entries()); n != 0 {
		t.Errorf("entries after resubscribe = %d, want 0", n)
	}
	if got := s.LastSeenID(); got != 0 {
		t.Errorf("lastSeenID after resubscribe = %d, want 0", got)
	}
	sub := s.ActiveSubscription()
	if sub == nil || sub.ProjectPath != "/work/psu" || sub.RequestedBuildID != "b-2" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if sub.BuildID != "" {
		t.Errorf("bound build id must clear until the server confirms, got %q", sub.BuildID)
	}
}

func TestSubscribedBindsBuildID(t *testing.T) {
	confirmed := make(chan SubscribedPayload, 1)
	s, _, _ := newTestSession(Hooks{
		Subscribed: func(p SubscribedPayload) { confirmed <- p },
	}, nil)
	s.Connect()

	if err := s.Subscribe("/work/amp", "board", LogFilters{}, ""); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s.handleSubscribed(mustJSON(t, SubscribedPayload{BuildID: "b-7", ProjectPath: "/work/amp", Target: "board"}))

	if s.SubscriptionStatus() != SubActive {
		t.Fatalf("expected SubActive, got %v", s.SubscriptionStatus())
	}
	sub := s.ActiveSubscription()
	if sub.BuildID != "b-7" {
		t.Errorf("bound build id = %q, want b-7", sub.BuildID)
	}
	if sub.RequestedBuildID != "" {
		t.Errorf("requested build id must stay as asked, got %q", sub.RequestedBuildID)
	}
	select {
	case p := <-confirmed:
		if p.BuildID != "b-7" {
			t.Errorf("hook payload build id = %q, want b-7", p.BuildID)
		}
	default:
		t.Error("Subscribed hook never fired")
	}
}

func TestSubscriptionErrorClearsState(t *testing.T) {
	failed := make(chan SubscriptionErrorPayload, 1)
	s, _, _ := newTestSession(Hooks{
		SubscriptionError: func(p SubscriptionErrorPayload) { failed <- p },
	}, nil)
	s.Connect()

	if err := s.Subscribe("/work/amp", "board", LogFilters{}, ""); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s.handleSubscriptionError(mustJSON(t, SubscriptionErrorPayload{Message: "no builds found"}))

	if s.SubscriptionStatus() != SubNone {
		t.Fatalf("expected SubNone, got %v", s.SubscriptionStatus())
	}
	if s.ActiveSubscription() != nil {
		t.Fatal("subscription must clear on error")
	}
	select {
	case p := <-failed:
		if p.Message != "no builds found" {
			t.Errorf("hook message = %q", p.Message)
		}
	default:
		t.Error("SubscriptionError hook never fired")
	}
}

func TestUpdateFiltersWithoutSubscriptionIsNoop(t *testing.T) {
	s, conn := activeSession(t)

	if err := s.UpdateFilters(LogFilters{MinLevel: "ERROR"}); err != nil {
		t.Fatalf("update filters: %v", err)
	}
	if frames := conn.sentFrames(t); len(frames) != 0 {
		t.Fatalf("expected no frames without a subscription, got %+v", frames)
	}
}

func TestUpdateFiltersResetsBuffer(t *testing.T) {
	s, conn := activeSession(t)
	subscribeActive(t, s, "b-1")

	s.handleLogBatch(mustJSON(t, LogBatchPayload{
		Logs:   []LogEntry{{ID: 1, Message: "hello"}},
		LastID: 1,
		Count:  1,
	}))

	if err := s.UpdateFilters(LogFilters{MinLevel: "ERROR", Stages: []string{"layout"}}); err != nil {
		t.Fatalf("update filters: %v", err)
	}
	if n := len(s.Entries()); n != 0 {
		t.Errorf("entries after filter change = %d, want 0", n)
	}
	if got := s.LastSeenID(); got != 0 {
		t.Errorf("lastSeenID after filter change = %d, want 0", got)
	}
	sub := s.ActiveSubscription()
	if sub.Filters.MinLevel != "ERROR" || len(sub.Filters.Stages) != 1 {
		t.Fatalf("filters not applied: %+v", sub.Filters)
	}

	frames := conn.sentFrames(t)
	last := frames[len(frames)-1]
	if last.Type != FrameUpdateFilters {
		t.Fatalf("expected update_filters frame, got %s", last.Type)
	}
	var f LogFilters
	if err := json.Unmarshal(last.Data, &f); err != nil {
		t.Fatalf("unmarshal filters: %v", err)
	}
	if f.MinLevel != "ERROR" || len(f.Stages) != 1 || f.Stages[0] != "layout" {
		t.Fatalf("unexpected filter payload: %+v", f)
	}
}

func TestUpdateFiltersKeepsMinLevelWhenBlank(t *testing.T) {
	s, _ := activeSession(t)
	if err := s.Subscribe("/work/amp", "board", LogFilters{MinLevel: "DEBUG"}, ""); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.UpdateFilters(LogFilters{Stages: []string{"netlist"}}); err != nil {
		t.Fatalf("update filters: %v", err)
	}
	if got := s.ActiveSubscription().Filters.MinLevel; got != "DEBUG" {
		t.Errorf("min level = %q, want DEBUG preserved", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	s, conn := activeSession(t)
	subscribeActive(t, s, "b-1")

	if err := s.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if s.SubscriptionStatus() != SubNone || s.ActiveSubscription() != nil {
		t.Fatal("subscription state must fully clear")
	}

	frames := conn.sentFrames(t)
	if frames[len(frames)-1].Type != FrameUnsubscribeLogs {
		t.Fatalf("expected unsubscribe_logs frame, got %+v", frames)
	}

	// A second Unsubscribe has nothing to tear down and sends nothing.
	before := len(conn.sentFrames(t))
	if err := s.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}
	if after := len(conn.sentFrames(t)); after != before {
		t.Fatal("idle unsubscribe must not send a frame")
	}
}

func TestLogBatchesAccumulateInArrivalOrder(t *testing.T) {
	var batches []LogBatchPayload
	s, _, _ := newTestSession(Hooks{
		LogBatch: func(p LogBatchPayload) { batches = append(batches, p) },
	}, nil)
	s.Connect()
	subscribeActive(t, s, "b-1")

	s.handleLogBatch(mustJSON(t, LogBatchPayload{
		Logs:   []LogEntry{{ID: 40, Level: "INFO", Message: "a"}, {ID: 42, Level: "ERROR", Message: "b"}},
		LastID: 42,
		Count:  2,
	}))
	s.handleLogBatch(mustJSON(t, LogBatchPayload{
		Logs:   []LogEntry{{ID: 50, Level: "WARNING", Message: "c"}},
		LastID: 50,
		Count:  1,
	}))

	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, wantID := range []int64{40, 42, 50} {
		if entries[i].ID != wantID {
			t.Errorf("entry %d id = %d, want %d", i, entries[i].ID, wantID)
		}
	}
	if got := s.LastSeenID(); got != 50 {
		t.Errorf("lastSeenID = %d, want 50", got)
	}
	if len(batches) != 2 {
		t.Errorf("LogBatch hook fired %d times, want 2", len(batches))
	}
}

func TestLogBatchWithoutSubscriptionDropped(t *testing.T) {
	s, _ := activeSession(t)

	s.handleLogBatch(mustJSON(t, LogBatchPayload{
		Logs:   []LogEntry{{ID: 1, Message: "stray"}},
		LastID: 1,
		Count:  1,
	}))

	if n := len(s.Entries()); n != 0 {
		t.Fatalf("expected stray batch dropped, got %d entries", n)
	}
	if got := s.LastSeenID(); got != 0 {
		t.Fatalf("lastSeenID = %d, want 0", got)
	}
}

func TestLogBufferCapped(t *testing.T) {
	s, _ := activeSession(t)
	subscribeActive(t, s, "b-1")

	logs := make([]LogEntry, maxBufferedEntries+10)
	for i := range logs {
		logs[i] = LogEntry{ID: int64(i + 1)}
	}
	s.handleLogBatch(mustJSON(t, LogBatchPayload{Logs: logs, LastID: int64(len(logs)), Count: len(logs)}))

	entries := s.Entries()
	if len(entries) != maxBufferedEntries {
		t.Fatalf("buffer length = %d, want %d", len(entries), maxBufferedEntries)
	}
	// Oldest entries fall off the front.
	if entries[0].ID != 11 {
		t.Errorf("first retained id = %d, want 11", entries[0].ID)
	}
}

func TestSubscribeWhileDisconnected(t *testing.T) {
	s, _, _ := newTestSession(Hooks{}, nil)

	err := s.Subscribe("/work/amp", "board", LogFilters{}, "")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	// Intent is recorded anyway; the next successful connect replays it.
	if s.ActiveSubscription() == nil || s.SubscriptionStatus() != SubPending {
		t.Fatal("subscription intent must survive a failed send")
	}
}
