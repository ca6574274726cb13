// Package mockd is a self-contained build server replica for developing the
// TUI without real hardware builds: it speaks the full WebSocket protocol
// (state, actions, log streaming) and the REST side channel, fed by a
// scripted build simulator.
package mockd

import (
	"fmt"
	"sync"
	"time"
)

// Entry is one stored log row. IDs are assigned sequentially per store so
// last_id is monotonic across batches.
type Entry struct {
	ID        int64  `json:"id"`
	BuildID   string `json:"build_id"`
	Timestamp string `json:"timestamp"`
	Stage     string `json:"stage"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

// Build is one build run with its log history.
type Build struct {
	ID          string
	ProjectPath string
	Target      string
	Timestamp   string
	Status      string // "building", "success", "warning", "failed"
	StartedAt   time.Time
	Duration    time.Duration
	Warnings    int
	Errors      int
}

// Store holds builds and their logs. It is the single source of truth the
// WebSocket handlers and REST endpoints read from.
type Store struct {
	mu       sync.RWMutex
	builds   []*Build
	logs     map[string][]Entry
	nextID   int64
	buildSeq int
}

func NewStore() *Store {
	return &Store{logs: make(map[string][]Entry)}
}

// StartBuild registers a new running build and returns it.
func (s *Store) StartBuild(projectPath, target string) *Build {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildSeq++
	b := &Build{
		ID:          fmt.Sprintf("build-%d", s.buildSeq),
		ProjectPath: projectPath,
		Target:      target,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Status:      "building",
		StartedAt:   time.Now(),
	}
	s.builds = append(s.builds, b)
	return b
}

// FinishBuild marks a build done and records its outcome counts.
func (s *Store) FinishBuild(id, status string, warnings, errors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.builds {
		if b.ID == id {
			b.Status = status
			b.Warnings = warnings
			b.Errors = errors
			b.Duration = time.Since(b.StartedAt)
			return
		}
	}
}

// Append stores a log entry for a build and returns it with its id assigned.
func (s *Store) Append(buildID, stage, level, message, details string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := Entry{
		ID:        s.nextID,
		BuildID:   buildID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Stage:     stage,
		Level:     level,
		Message:   message,
		Details:   details,
	}
	s.logs[buildID] = append(s.logs[buildID], e)
	return e
}

// Find returns the build with the given id, or nil.
func (s *Store) Find(id string) *Build {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.builds {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Latest returns the most recent build for a project/target, or nil. Empty
// target matches any target of the project; empty project matches anything.
func (s *Store) Latest(projectPath, target string) *Build {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.builds) - 1; i >= 0; i-- {
		b := s.builds[i]
		if projectPath != "" && b.ProjectPath != projectPath {
			continue
		}
		if target != "" && b.Target != target {
			continue
		}
		return b
	}
	return nil
}

var levelRank = map[string]int{
	"DEBUG": 0, "INFO": 1, "WARNING": 2, "ERROR": 3, "ALERT": 4,
}

// Logs returns a build's entries at or above minLevel, restricted to stages
// when non-empty, with id > afterID.
func (s *Store) Logs(buildID, minLevel string, stages []string, afterID int64) []Entry {
	min, ok := levelRank[minLevel]
	if !ok {
		min = levelRank["INFO"]
	}
	stageSet := make(map[string]bool, len(stages))
	for _, st := range stages {
		stageSet[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.logs[buildID] {
		if e.ID <= afterID {
			continue
		}
		rank, ok := levelRank[e.Level]
		if !ok {
			rank = levelRank["INFO"]
		}
		if rank < min {
			continue
		}
		if len(stageSet) > 0 && !stageSet[e.Stage] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Stages lists the distinct stages seen in a build's logs.
func (s *Store) Stages(buildID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.logs[buildID] {
		if !seen[e.Stage] {
			seen[e.Stage] = true
			out = append(out, e.Stage)
		}
	}
	return out
}

// Running lists builds still in progress.
func (s *Store) Running() []*Build {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Build
	for _, b := range s.builds {
		if b.Status == "building" {
			out = append(out, b)
		}
	}
	return out
}

// Completed lists finished builds, most recent last.
func (s *Store) Completed() []*Build {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Build
	for _, b := range s.builds {
		if b.Status != "building" {
			out = append(out, b)
		}
	}
	return out
}

// SummaryFor aggregates the latest build per target of a project.
func (s *Store) SummaryFor(projectPath string) (totals map[string]int, builds []*Build) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]*Build)
	var order []string
	for _, b := range s.builds {
		if projectPath != "" && b.ProjectPath != projectPath {
			continue
		}
		if _, ok := latest[b.Target]; !ok {
			order = append(order, b.Target)
		}
		latest[b.Target] = b
	}

	totals = map[string]int{"builds": 0, "successful": 0, "failed": 0, "warnings": 0, "errors": 0}
	for _, target := range order {
		b := latest[target]
		builds = append(builds, b)
		totals["builds"]++
		switch b.Status {
		case "success", "warning":
			totals["successful"]++
		case "failed":
			totals["failed"]++
		}
		totals["warnings"] += b.Warnings
		totals["errors"] += b.Errors
	}
	return totals, builds
}
