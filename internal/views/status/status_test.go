package status

import (
	"strings"
	"testing"
)

func TestViewDisconnected(t *testing.T) {
	m := New()
	m.Width = 80
	v := m.View()
	if !strings.Contains(v, "Reconnecting") {
		t.Error("disconnected bar should show 'Reconnecting'")
	}
	if !strings.Contains(v, "(no project)") {
		t.Error("bar without project should show placeholder")
	}
}

func TestViewConnectedWithSubscription(t *testing.T) {
	m := New()
	m.Width = 100
	m.Connected = true
	m.ProjectPath = "/work/amp"
	m.Target = "board"
	m.Subscribed = true
	m.BuildID = "build-3"
	m.EntryCount = 42
	m.MinLevel = "WARNING"

	v := m.View()
	for _, want := range []string{"Connected", "/work/amp:board", "build-3", "42 lines", "WARNING"} {
		if !strings.Contains(v, want) {
			t.Errorf("bar missing %q", want)
		}
	}
}

func TestViewBuildingTakesPriority(t *testing.T) {
	m := New()
	m.Width = 80
	m.Connected = true
	m.Subscribed = true
	m.BuildID = "build-9"
	m.Building = true

	v := m.View()
	if !strings.Contains(v, "building") {
		t.Error("bar should show building indicator")
	}
	if strings.Contains(v, "build-9") {
		t.Error("building indicator should replace the build id")
	}
}

func TestViewStageFilterAndNotice(t *testing.T) {
	m := New()
	m.Width = 100
	m.Connected = true
	m.Stage = "drc"
	m.Notice = "open main.ato:12"

	v := m.View()
	if !strings.Contains(v, "[drc]") {
		t.Error("bar should show the active stage filter")
	}
	if !strings.Contains(v, "open main.ato:12") {
		t.Error("bar should show the one-shot notice")
	}
}

func TestViewNoSubscription(t *testing.T) {
	m := New()
	m.Width = 80
	m.Connected = true
	if v := m.View(); !strings.Contains(v, "no subscription") {
		t.Error("bar without subscription should say so")
	}
}
