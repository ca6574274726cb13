package mockd

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// buildStage is one step of the scripted build pipeline.
type buildStage struct {
	name  string
	lines []scriptLine
}

type scriptLine struct {
	level   string
	message string
	details string
}

// pipeline mirrors a typical board build: solve the design, place and route,
// then export artifacts.
var pipeline = []buildStage{
	{"solve", []scriptLine{
		{"INFO", "resolving component tree", ""},
		{"DEBUG", "loaded 214 modules from stdlib", ""},
		{"INFO", "picking parts for 36 components", ""},
		{"WARNING", "no exact match for R7, using nearest E96 value", "Requested 4.99k, selected 5.1k (2% off).\n\nOverride with an explicit `mpn` if the tolerance matters."},
	}},
	{"layout", []scriptLine{
		{"INFO", "syncing layout", ""},
		{"DEBUG", "34 footprints placed, 2 new", ""},
		{"INFO", "routing 87 nets", ""},
	}},
	{"netlist", []scriptLine{
		{"INFO", "generating netlist", ""},
		{"DEBUG", "netlist hash unchanged for 3 sheets", ""},
	}},
	{"drc", []scriptLine{
		{"INFO", "running design rule checks", ""},
		{"ERROR", "clearance violation between U2 pad 4 and via", "Minimum clearance 0.2mm, measured 0.14mm near (24.1, 8.7).\n\n```\nnet: VBUS\nlayer: F.Cu\n```"},
	}},
	{"export", []scriptLine{
		{"INFO", "writing gerbers", ""},
		{"INFO", "writing BOM", ""},
		{"INFO", "build finished", ""},
	}},
}

// Simulator runs scripted builds against the store and streams their
// progress to connected clients.
type Simulator struct {
	store *Store
	bcast *Broadcaster
	tick      time.Duration
	publishMu sync.Mutex
	publish   func(state, extra map[string]interface{})
	projects  []string
}

// NewSimulator creates a simulator ticking at the given interval between log
// lines. tick <= 0 picks a demo-friendly default.
func NewSimulator(store *Store, b *Broadcaster, tick time.Duration) *Simulator {
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	return &Simulator{
		store:    store,
		bcast:    b,
		tick:     tick,
		projects: []string{"/work/amp", "/work/psu"},
	}
}

// setPublisher wires the state publisher. The server installs itself here so
// the simulator's snapshots and signals go through one place.
func (s *Simulator) setPublisher(fn func(state, extra map[string]interface{})) {
	s.publishMu.Lock()
	s.publish = fn
	s.publishMu.Unlock()
}

func (s *Simulator) publishState(state, extra map[string]interface{}) {
	s.publishMu.Lock()
	fn := s.publish
	s.publishMu.Unlock()
	if fn != nil {
		fn(state, extra)
	}
}

// Trigger starts one scripted build and returns it immediately; the build
// runs on its own goroutine.
func (s *Simulator) Trigger(projectPath, target string) *Build {
	if projectPath == "" {
		projectPath = s.projects[0]
	}
	if target == "" {
		target = "board"
	}
	b := s.store.StartBuild(projectPath, target)

	s.bcast.BroadcastEvent("build_started", map[string]interface{}{
		"build_id": b.ID, "project_path": b.ProjectPath,
	})
	s.publishState(map[string]interface{}{
		"building": true, "projects": s.projects, "current_build": b.ID,
	}, nil)

	go s.run(b)
	return b
}

func (s *Simulator) run(b *Build) {
	warnings, errors := 0, 0
	failed := rand.Intn(3) == 0

	for _, stage := range pipeline {
		for _, line := range stage.lines {
			if line.level == "ERROR" && !failed {
				continue
			}
			time.Sleep(s.tick)
			if s.cancelled(b.ID) {
				return
			}
			s.store.Append(b.ID, stage.name, line.level, line.message, line.details)
			switch line.level {
			case "WARNING":
				warnings++
			case "ERROR":
				errors++
			}
			s.bcast.PumpLogs(b.ID)
		}
		if failed && stage.name == "drc" {
			break
		}
	}

	if s.cancelled(b.ID) {
		return
	}
	status := "success"
	switch {
	case errors > 0:
		status = "failed"
	case warnings > 0:
		status = "warning"
	}
	s.store.FinishBuild(b.ID, status, warnings, errors)

	s.bcast.BroadcastEvent("build_completed", map[string]interface{}{
		"build_id": b.ID, "project_path": b.ProjectPath, "status": status,
	})
	s.bcast.BroadcastEvent("summary_updated", map[string]interface{}{
		"project_path": b.ProjectPath,
	})
	s.publishState(map[string]interface{}{
		"building": false, "projects": s.projects, "last_build": b.ID,
	}, nil)
}

// cancelled reports whether the build was finished out from under the
// simulator (cancel action or REST delete).
func (s *Simulator) cancelled(buildID string) bool {
	b := s.store.Find(buildID)
	return b == nil || b.Status != "building"
}

// Start seeds one finished build so subscribers have history, then keeps
// triggering demo builds until ctx is done.
func (s *Simulator) Start(ctx context.Context) {
	s.Trigger(s.projects[0], "board")

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i++
			project := s.projects[i%len(s.projects)]
			target := [...]string{"board", "panel"}[i%2]
			s.Trigger(project, target)
		}
	}
}
