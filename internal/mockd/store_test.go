package mockd

import "testing"

func seedBuild(s *Store) *Build {
	b := s.StartBuild("/work/amp", "board")
	s.Append(b.ID, "solve", "DEBUG", "loading modules", "")
	s.Append(b.ID, "solve", "INFO", "picking parts", "")
	s.Append(b.ID, "layout", "WARNING", "unplaced footprint", "")
	s.Append(b.ID, "drc", "ERROR", "clearance violation", "")
	s.FinishBuild(b.ID, "failed", 1, 1)
	return b
}

func TestLogsFilterByLevel(t *testing.T) {
	s := NewStore()
	b := seedBuild(s)

	cases := []struct {
		minLevel string
		want     int
	}{
		{"DEBUG", 4},
		{"INFO", 3},
		{"WARNING", 2},
		{"ERROR", 1},
		{"ALERT", 0},
		{"bogus", 3}, // unknown level ranks as INFO
	}
	for _, tc := range cases {
		if got := len(s.Logs(b.ID, tc.minLevel, nil, 0)); got != tc.want {
			t.Errorf("Logs(minLevel=%s) = %d entries, want %d", tc.minLevel, got, tc.want)
		}
	}
}

func TestLogsFilterByStage(t *testing.T) {
	s := NewStore()
	b := seedBuild(s)

	got := s.Logs(b.ID, "DEBUG", []string{"solve"}, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 solve entries, got %d", len(got))
	}
	for _, e := range got {
		if e.Stage != "solve" {
			t.Errorf("unexpected stage %q", e.Stage)
		}
	}
}

func TestLogsAfterID(t *testing.T) {
	s := NewStore()
	b := seedBuild(s)

	all := s.Logs(b.ID, "DEBUG", nil, 0)
	rest := s.Logs(b.ID, "DEBUG", nil, all[1].ID)
	if len(rest) != 2 {
		t.Fatalf("expected 2 entries after id %d, got %d", all[1].ID, len(rest))
	}
	if rest[0].ID <= all[1].ID {
		t.Errorf("entry %d not after %d", rest[0].ID, all[1].ID)
	}
}

func TestIDsMonotonicAcrossBuilds(t *testing.T) {
	s := NewStore()
	a := s.StartBuild("/work/amp", "board")
	e1 := s.Append(a.ID, "solve", "INFO", "first", "")
	b := s.StartBuild("/work/psu", "board")
	e2 := s.Append(b.ID, "solve", "INFO", "second", "")
	if e2.ID <= e1.ID {
		t.Fatalf("ids must increase across builds: %d then %d", e1.ID, e2.ID)
	}
}

func TestLatest(t *testing.T) {
	s := NewStore()
	s.StartBuild("/work/amp", "board")
	newest := s.StartBuild("/work/amp", "board")
	other := s.StartBuild("/work/psu", "panel")

	if got := s.Latest("/work/amp", "board"); got == nil || got.ID != newest.ID {
		t.Fatalf("Latest(amp, board) = %+v, want %s", got, newest.ID)
	}
	if got := s.Latest("/work/psu", ""); got == nil || got.ID != other.ID {
		t.Fatalf("Latest(psu, any) = %+v, want %s", got, other.ID)
	}
	if got := s.Latest("/work/nope", ""); got != nil {
		t.Fatalf("Latest of unknown project = %+v, want nil", got)
	}
}

func TestSummaryForUsesLatestPerTarget(t *testing.T) {
	s := NewStore()
	old := s.StartBuild("/work/amp", "board")
	s.FinishBuild(old.ID, "failed", 0, 2)
	cur := s.StartBuild("/work/amp", "board")
	s.FinishBuild(cur.ID, "success", 1, 0)
	panel := s.StartBuild("/work/amp", "panel")
	s.FinishBuild(panel.ID, "warning", 2, 0)

	totals, builds := s.SummaryFor("/work/amp")
	if totals["builds"] != 2 {
		t.Errorf("totals.builds = %d, want 2 (one per target)", totals["builds"])
	}
	if totals["successful"] != 2 || totals["failed"] != 0 {
		t.Errorf("totals = %v, old failed build must not count", totals)
	}
	if totals["warnings"] != 3 {
		t.Errorf("totals.warnings = %d, want 3", totals["warnings"])
	}
	if len(builds) != 2 {
		t.Errorf("len(builds) = %d, want 2", len(builds))
	}
}

func TestStages(t *testing.T) {
	s := NewStore()
	b := seedBuild(s)
	stages := s.Stages(b.ID)
	if len(stages) != 3 {
		t.Fatalf("stages = %v, want 3 distinct", stages)
	}
}
