package mockd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Server exposes the build server surface: the /ws duplex channel and the
// REST side channel under /api/.
type Server struct {
	store       *Store
	broadcaster *Broadcaster
	sim         *Simulator
	authToken   string

	mu    sync.RWMutex
	state map[string]interface{}
}

func NewServer(store *Store, broadcaster *Broadcaster, sim *Simulator, authToken string) *Server {
	s := &Server{
		store:       store,
		broadcaster: broadcaster,
		sim:         sim,
		authToken:   authToken,
		state:       map[string]interface{}{"building": false, "projects": []string{}},
	}
	if sim != nil {
		sim.setPublisher(s.SetState)
	}
	return s
}

// SetState replaces the published state and broadcasts the new snapshot.
// Extra holds one-shot signal fields to ride along on this snapshot only.
func (s *Server) SetState(state map[string]interface{}, extra map[string]interface{}) {
	s.mu.Lock()
	s.state = state
	out := make(map[string]interface{}, len(state)+len(extra))
	for k, v := range state {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	s.mu.Unlock()

	s.broadcaster.BroadcastState(out)
}

func (s *Server) currentState() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// Routes registers all handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/summary", s.requireAuth(s.handleSummary))
	mux.HandleFunc("/api/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("/api/build", s.requireAuth(s.handleBuild))
	mux.HandleFunc("/api/build/", s.requireAuth(s.handleCancelBuild))
	mux.HandleFunc("/api/logs/query", s.requireAuth(s.handleLogQuery))
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			if r.Header.Get("Authorization") != "Bearer "+s.authToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	c := s.broadcaster.AddClient(conn, s.currentState())
	go s.readPump(c)
}

// inboundFrame covers every client-to-server frame shape.
type inboundFrame struct {
	Type    string                 `json:"type"`
	Action  string                 `json:"action,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Data    json.RawMessage        `json:"data,omitempty"`
}

func (s *Server) readPump(c *client) {
	defer s.broadcaster.RemoveClient(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("bad frame: %v", err)
			continue
		}
		switch f.Type {
		case "action":
			s.handleAction(c, &f)
		case "subscribe_logs":
			s.handleSubscribe(c, f.Data)
		case "update_filters":
			s.handleUpdateFilters(c, f.Data)
		case "unsubscribe_logs":
			c.unsubscribe()
			c.enqueue(map[string]interface{}{"type": "unsubscribed"})
		default:
			log.Printf("unknown frame type %q", f.Type)
		}
	}
}

func (s *Server) handleAction(c *client, f *inboundFrame) {
	requestID, _ := f.Payload["requestId"].(string)
	result := map[string]interface{}{"success": true}

	switch f.Action {
	case "build":
		projectPath, _ := f.Payload["project_path"].(string)
		target, _ := f.Payload["target"].(string)
		if s.sim != nil {
			b := s.sim.Trigger(projectPath, target)
			result["build_id"] = b.ID
		}
	case "cancel_build":
		buildID, _ := f.Payload["build_id"].(string)
		if b := s.store.Find(buildID); b != nil && b.Status == "building" {
			s.store.FinishBuild(buildID, "failed", 0, 0)
			s.broadcaster.BroadcastEvent("build_completed", map[string]interface{}{
				"build_id": buildID, "project_path": b.ProjectPath,
			})
		} else {
			result["success"] = false
			result["error"] = fmt.Sprintf("no running build %s", buildID)
		}
	case "open_file":
		// Echo the request back as a one-shot signal on the next snapshot,
		// the way the real server tells every client to jump to a source
		// location.
		path, _ := f.Payload["path"].(string)
		line, _ := f.Payload["line"].(float64)
		s.SetState(s.currentState(), map[string]interface{}{
			"openFile":     path,
			"openFileLine": int(line),
		})
	default:
		result["success"] = false
		result["error"] = fmt.Sprintf("unknown action %q", f.Action)
	}

	c.enqueue(map[string]interface{}{
		"type":    "action_result",
		"action":  f.Action,
		"payload": map[string]interface{}{"requestId": requestID},
		"result":  result,
	})
}

type subscribeRequest struct {
	ProjectPath string   `json:"project_path"`
	Target      string   `json:"target"`
	BuildID     string   `json:"build_id"`
	MinLevel    string   `json:"min_level"`
	Stages      []string `json:"stages"`
}

func (s *Server) handleSubscribe(c *client, data json.RawMessage) {
	var req subscribeRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("bad subscribe payload: %v", err)
			return
		}
	}

	var b *Build
	if req.BuildID != "" {
		b = s.store.Find(req.BuildID)
	} else {
		b = s.store.Latest(req.ProjectPath, req.Target)
	}
	if b == nil {
		c.enqueue(map[string]interface{}{
			"type": "subscription_error",
			"data": map[string]interface{}{
				"message": fmt.Sprintf("no builds found for %s %s", req.ProjectPath, req.Target),
			},
		})
		return
	}

	if req.MinLevel == "" {
		req.MinLevel = "INFO"
	}
	c.subscribe(b.ID, req.MinLevel, req.Stages)
	c.enqueue(map[string]interface{}{
		"type": "subscribed",
		"data": map[string]interface{}{
			"build_id":        b.ID,
			"build_timestamp": b.Timestamp,
			"project_path":    b.ProjectPath,
			"target":          b.Target,
			"min_level":       req.MinLevel,
			"stages":          req.Stages,
		},
	})
	// Replay matching history from the top under the new subscription.
	s.broadcaster.pumpClient(c, b.ID)
}

func (s *Server) handleUpdateFilters(c *client, data json.RawMessage) {
	var req struct {
		MinLevel string   `json:"min_level"`
		Stages   []string `json:"stages"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("bad filter payload: %v", err)
			return
		}
	}
	if !c.setFilters(req.MinLevel, req.Stages) {
		return
	}
	c.enqueue(map[string]interface{}{
		"type": "filters_updated",
		"data": map[string]interface{}{"min_level": req.MinLevel, "stages": req.Stages},
	})
	s.broadcaster.pumpClient(c, "")
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	projectPath := r.URL.Query().Get("project_path")
	totals, builds := s.store.SummaryFor(projectPath)

	out := map[string]interface{}{
		"totals":       totals,
		"builds":       buildInfos(builds),
		"project_path": projectPath,
	}
	writeJSON(w, out)
}

func buildInfos(builds []*Build) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(builds))
	for _, b := range builds {
		out = append(out, map[string]interface{}{
			"name":             b.Target,
			"status":           b.Status,
			"timestamp":        b.Timestamp,
			"warnings":         b.Warnings,
			"errors":           b.Errors,
			"duration_seconds": b.Duration.Seconds(),
			"project_path":     b.ProjectPath,
		})
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":           "ok",
		"running_builds":   runningInfos(s.store.Running()),
		"completed_builds": runningInfos(s.store.Completed()),
		"ws_clients":       s.broadcaster.ClientCount(),
	})
}

func runningInfos(builds []*Build) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(builds))
	for _, b := range builds {
		out = append(out, map[string]interface{}{
			"build_id":        b.ID,
			"project_path":    b.ProjectPath,
			"targets":         []string{b.Target},
			"started_at":      float64(b.StartedAt.Unix()),
			"elapsed_seconds": b.Duration.Seconds(),
		})
	}
	return out
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ProjectPath string   `json:"project_path"`
		Targets     []string `json:"targets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	target := ""
	if len(req.Targets) > 0 {
		target = req.Targets[0]
	}
	if s.sim == nil {
		http.Error(w, "builds disabled", http.StatusServiceUnavailable)
		return
	}
	b := s.sim.Trigger(req.ProjectPath, target)
	writeJSON(w, map[string]interface{}{
		"build_id":     b.ID,
		"status":       "started",
		"project_path": b.ProjectPath,
		"targets":      []string{b.Target},
	})
}

func (s *Server) handleCancelBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	buildID := strings.TrimPrefix(r.URL.Path, "/api/build/")
	b := s.store.Find(buildID)
	if b == nil || b.Status != "building" {
		http.Error(w, "no such running build", http.StatusNotFound)
		return
	}
	s.store.FinishBuild(buildID, "failed", 0, 0)
	s.broadcaster.BroadcastEvent("build_completed", map[string]interface{}{
		"build_id": buildID, "project_path": b.ProjectPath,
	})
	writeJSON(w, map[string]interface{}{"status": "cancelled"})
}

func (s *Server) handleLogQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	buildID := q.Get("build_id")
	if buildID == "" {
		if b := s.store.Latest("", ""); b != nil {
			buildID = b.ID
		}
	}

	minLevel := "DEBUG"
	if levels := q.Get("levels"); levels != "" {
		// The query API takes an explicit level list; the stream takes a
		// floor. Treat the lowest requested level as the floor.
		minLevel = "ALERT"
		for _, lv := range strings.Split(levels, ",") {
			if levelRank[lv] < levelRank[minLevel] {
				minLevel = lv
			}
		}
	}
	var stages []string
	if sts := q.Get("stages"); sts != "" {
		stages = strings.Split(sts, ",")
	}

	entries := s.store.Logs(buildID, minLevel, stages, 0)
	writeJSON(w, map[string]interface{}{
		"logs":   entries,
		"total":  len(entries),
		"stages": s.store.Stages(buildID),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

// ListenAndServe starts the mock server on addr.
func ListenAndServe(addr string, s *Server) error {
	mux := http.NewServeMux()
	s.Routes(mux)
	log.Printf("mock build server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
