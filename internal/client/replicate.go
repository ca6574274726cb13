package client

import (
	"encoding/json"
	"log"
)

// applySnapshot applies one full-state frame. One-shot signal fields are
// extracted and forwarded before the rest of the payload replaces the local
// projection wholesale; storing them would re-fire the signal on every
// unrelated state change, since the server sends the full state each time.
// Application is all-or-nothing: a payload that fails to parse is dropped and
// the prior projection stays intact.
func (s *Session) applySnapshot(raw json.RawMessage) {
	var snap map[string]interface{}
	if err := json.Unmarshal(raw, &snap); err != nil {
		log.Printf("state frame dropped: %v", err)
		return
	}

	sig := extractSignals(snap)
	if !sig.Empty() && s.hooks.Signal != nil {
		s.hooks.Signal(sig)
	}
	if s.hooks.Snapshot != nil {
		s.hooks.Snapshot(snap)
	}
}

// Snapshot fields that are edge-triggered instructions, not state.
var signalKeys = []string{
	"openFile", "openFileLine", "openFileColumn",
	"openLayout", "openKicad", "open3d",
}

// extractSignals pulls the one-shot signal fields out of snap, deleting them
// so they are never stored. Absent or falsy fields yield no signal.
func extractSignals(snap map[string]interface{}) Signal {
	var sig Signal
	if v, ok := snap["openFile"].(string); ok && v != "" {
		sig.OpenFile = v
		sig.OpenFileLine = intField(snap, "openFileLine")
		sig.OpenFileColumn = intField(snap, "openFileColumn")
	}
	if v, ok := snap["openLayout"].(string); ok && v != "" {
		sig.OpenLayout = v
	}
	if v, ok := snap["openKicad"].(string); ok && v != "" {
		sig.OpenKicad = v
	}
	if v, ok := snap["open3d"].(string); ok && v != "" {
		sig.Open3D = v
	}
	for _, k := range signalKeys {
		delete(snap, k)
	}
	return sig
}

// intField reads a numeric snapshot field. JSON numbers decode as float64.
func intField(snap map[string]interface{}, key string) int {
	if f, ok := snap[key].(float64); ok {
		return int(f)
	}
	return 0
}
