// Package client implements the WebSocket protocol of the boardsmith build
// server: full-state synchronization, correlated request/response actions,
// and incremental log streaming over a single duplex connection.
// Types mirror the server wire protocol without importing server packages.
package client

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies the kind of WebSocket frame.
type FrameType string

// Inbound frame types.
const (
	FrameState             FrameType = "state"
	FrameActionResult      FrameType = "action_result"
	FrameEvent             FrameType = "event"
	FrameConnected         FrameType = "connected"
	FrameSubscribed        FrameType = "subscribed"
	FrameSubscriptionError FrameType = "subscription_error"
	FrameLogBatch          FrameType = "log_batch"
	FrameFiltersUpdated    FrameType = "filters_updated"
	FrameUnsubscribed      FrameType = "unsubscribed"
)

// Outbound frame types.
const (
	FrameAction          FrameType = "action"
	FrameSubscribeLogs   FrameType = "subscribe_logs"
	FrameUpdateFilters   FrameType = "update_filters"
	FrameUnsubscribeLogs FrameType = "unsubscribe_logs"
)

// Frame is the envelope for all WebSocket traffic. Inbound frames carry their
// payload under either "data" (state, events, subscription protocol) or the
// action_result fields, so everything beyond the discriminator stays raw until
// the type switch.
type Frame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	// action_result fields.
	Action  string          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`

	// Legacy action_result frames flatten the result onto the frame itself.
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`

	// event frames.
	Event string `json:"event,omitempty"`
}

// logLevelOrder matches the server's central log database.
var logLevelOrder = map[string]int{
	"DEBUG":   0,
	"INFO":    1,
	"WARNING": 2,
	"ERROR":   3,
	"ALERT":   4,
}

// LevelAtLeast reports whether level is at or above min. Unknown levels rank
// as INFO, matching the server's filter.
func LevelAtLeast(level, min string) bool {
	l, ok := logLevelOrder[level]
	if !ok {
		l = logLevelOrder["INFO"]
	}
	m, ok := logLevelOrder[min]
	if !ok {
		m = logLevelOrder["INFO"]
	}
	return l >= m
}

// LogEntry is one row streamed from the server's central log store.
type LogEntry struct {
	ID        int64  `json:"id"`
	BuildID   string `json:"build_id"`
	Timestamp string `json:"timestamp"`
	Stage     string `json:"stage"`
	Level     string `json:"level"`
	Audience  string `json:"audience,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

// LogBatchPayload is the data of a log_batch frame. LastID is monotonic
// within one subscription.
type LogBatchPayload struct {
	Logs   []LogEntry `json:"logs"`
	LastID int64      `json:"last_id"`
	Count  int        `json:"count"`
}

// SubscribedPayload confirms a log subscription. The server fills in BuildID
// when the client subscribed without one.
type SubscribedPayload struct {
	BuildID        string   `json:"build_id"`
	BuildTimestamp string   `json:"build_timestamp,omitempty"`
	ProjectPath    string   `json:"project_path"`
	Target         string   `json:"target"`
	MinLevel       string   `json:"min_level,omitempty"`
	Stages         []string `json:"stages,omitempty"`
}

// SubscriptionErrorPayload reports a failed subscribe (e.g. no builds found).
type SubscriptionErrorPayload struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// LogFilters are the mutable parts of a subscription.
type LogFilters struct {
	MinLevel string   `json:"min_level"`
	Stages   []string `json:"stages"`
}

// Signal is a one-shot instruction extracted from a state snapshot. It fires
// exactly once per arrival and is never stored as state.
type Signal struct {
	OpenFile       string `json:"openFile,omitempty"`
	OpenFileLine   int    `json:"openFileLine,omitempty"`
	OpenFileColumn int    `json:"openFileColumn,omitempty"`
	OpenLayout     string `json:"openLayout,omitempty"`
	OpenKicad      string `json:"openKicad,omitempty"`
	Open3D         string `json:"open3d,omitempty"`
}

// Empty reports whether no signal fields are set.
func (s Signal) Empty() bool {
	return s == Signal{}
}

// ActionResult is the canonical, normalized outcome of a correlated action.
// Raw retains the result object for callers that need action-specific fields.
type ActionResult struct {
	Action    string
	RequestID string
	Success   bool
	Error     string
	Raw       json.RawMessage
}

// normalizeActionResult folds both action_result shapes into one ActionResult:
// the nested {payload:{requestId}, result:{success,error}} form and the legacy
// form with success/error flattened onto the frame.
func normalizeActionResult(f *Frame) ActionResult {
	res := ActionResult{Action: f.Action}

	if len(f.Payload) > 0 {
		var p struct {
			RequestID string `json:"requestId"`
		}
		if json.Unmarshal(f.Payload, &p) == nil {
			res.RequestID = p.RequestID
		}
	}

	if len(f.Result) > 0 {
		res.Raw = f.Result
		var r struct {
			Success   bool   `json:"success"`
			Error     string `json:"error"`
			RequestID string `json:"requestId"`
		}
		if json.Unmarshal(f.Result, &r) == nil {
			res.Success = r.Success
			res.Error = r.Error
			if res.RequestID == "" {
				res.RequestID = r.RequestID
			}
		}
		return res
	}

	// Legacy shape: success/error directly on the frame.
	if f.Success != nil {
		res.Success = *f.Success
	}
	res.Error = f.Error
	return res
}

// Err converts a failed result into an error, nil on success.
func (r ActionResult) Err() error {
	if r.Success {
		return nil
	}
	if r.Error != "" {
		return fmt.Errorf("action %s: %s", r.Action, r.Error)
	}
	return fmt.Errorf("action %s failed", r.Action)
}

// subscribePayload is the data of an outbound subscribe_logs frame.
type subscribePayload struct {
	ProjectPath string   `json:"project_path"`
	Target      string   `json:"target"`
	BuildID     string   `json:"build_id,omitempty"`
	MinLevel    string   `json:"min_level"`
	Stages      []string `json:"stages"`
}

// outboundFrame is the envelope for all client→server frames.
type outboundFrame struct {
	Type    FrameType   `json:"type"`
	Action  string      `json:"action,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
