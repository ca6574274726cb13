package summary

import (
	"errors"
	"strings"
	"testing"

	"github.com/boardsmith/tui/internal/client"
)

func TestViewEmpty(t *testing.T) {
	m := New()
	m.Width = 80
	if v := m.View(); !strings.Contains(v, "no summary yet") {
		t.Error("empty pane should show 'no summary yet'")
	}
}

func TestViewError(t *testing.T) {
	m := New()
	m.Width = 80
	m.SetSummary(nil, errors.New("connection refused"))
	v := m.View()
	if !strings.Contains(v, "summary unavailable") || !strings.Contains(v, "connection refused") {
		t.Errorf("error pane should surface the error, got %q", v)
	}
}

func TestViewTotalsAndTable(t *testing.T) {
	m := New()
	m.Width = 100
	m.SetSummary(&client.BuildSummary{
		Totals: client.BuildTotals{Builds: 2, Successful: 1, Failed: 1, Warnings: 3, Errors: 2},
		Builds: []client.BuildInfo{
			{Name: "board", Status: "success", Warnings: 0, Errors: 0, DurationSec: 4.2},
			{Name: "psu", Status: "failed", Warnings: 3, Errors: 2, DurationSec: 1.1},
		},
	}, nil)

	v := m.View()
	for _, want := range []string{"Targets: 2", "OK: 1", "Failed: 1", "board", "psu", "success", "failed"} {
		if !strings.Contains(v, want) {
			t.Errorf("summary pane missing %q", want)
		}
	}
}

func TestSetSummaryClearsPreviousError(t *testing.T) {
	m := New()
	m.Width = 80
	m.SetSummary(nil, errors.New("boom"))
	m.SetSummary(&client.BuildSummary{}, nil)
	if v := m.View(); strings.Contains(v, "summary unavailable") {
		t.Error("successful refresh should clear the error state")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 20); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("a-very-long-target-name-indeed", 10); len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncate long = %q, want 10 runes ending in ellipsis", got)
	}
}
