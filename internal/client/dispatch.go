package client

import (
	"encoding/json"
	"log"
)

// Refresher is the command surface the event dispatcher re-fetches through.
// Each method is an idempotent fetch-and-store-update over the HTTP side
// channel, independent of the WebSocket connection. Implementations are
// responsible for their own deduplication of overlapping refreshes.
type Refresher interface {
	RefreshSummary(projectPath string)
	RefreshProjects()
	RefreshBOM()
	RefreshVariables()
	RefreshStdlib()
}

// eventPayload is the context some events carry.
type eventPayload struct {
	ProjectPath string `json:"project_path"`
}

// dispatchEvent maps a server-pushed event to its refresh action. Unknown
// event names are logged and ignored so new server event types do not break
// old clients. Each refresh runs on its own goroutine; a refresh is invoked
// at most once per event occurrence.
func (s *Session) dispatchEvent(name string, data json.RawMessage) {
	if s.hooks.Event != nil {
		s.hooks.Event(name, data)
	}
	if s.refresher == nil {
		return
	}

	switch name {
	case "build_started", "build_completed", "summary_updated":
		var p eventPayload
		if len(data) > 0 {
			json.Unmarshal(data, &p)
		}
		go s.refresher.RefreshSummary(p.ProjectPath)
	case "projects_changed":
		go s.refresher.RefreshProjects()
	case "bom_changed":
		go s.refresher.RefreshBOM()
	case "variables_changed":
		go s.refresher.RefreshVariables()
	case "stdlib_changed":
		go s.refresher.RefreshStdlib()
	default:
		log.Printf("ws unknown event %q", name)
	}
}
