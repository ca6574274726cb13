package app

import (
	"encoding/json"
	"fmt"

	"github.com/boardsmith/tui/internal/client"
	"github.com/boardsmith/tui/internal/config"
	"github.com/boardsmith/tui/internal/theme"
	"github.com/boardsmith/tui/internal/views/debug"
	"github.com/boardsmith/tui/internal/views/detail"
	"github.com/boardsmith/tui/internal/views/logs"
	"github.com/boardsmith/tui/internal/views/status"
	"github.com/boardsmith/tui/internal/views/summary"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDetail
	OverlayDebug
)

// logLevels is the cycle order for the min-level filter key.
var logLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "ALERT"}

// Messages bridged from session hooks into the Bubble Tea update loop.
type (
	// ConnectionMsg reports a connect/disconnect transition.
	ConnectionMsg struct{ Connected bool }
	// SnapshotMsg carries a full-replacement state snapshot.
	SnapshotMsg struct{ State map[string]interface{} }
	// SignalMsg carries one-shot open-file/open-layout instructions.
	SignalMsg struct{ Signal client.Signal }
	// LogBatchMsg carries a batch of streamed log entries.
	LogBatchMsg struct{ Batch client.LogBatchPayload }
	// SubscribedMsg confirms a log subscription.
	SubscribedMsg struct{ Payload client.SubscribedPayload }
	// SubscriptionErrorMsg reports a failed subscribe.
	SubscriptionErrorMsg struct{ Payload client.SubscriptionErrorPayload }
	// ActionResultMsg reports the outcome of a correlated action.
	ActionResultMsg struct {
		Result client.ActionResult
		Err    error
	}
	// EventMsg mirrors every server-pushed event for the event log.
	EventMsg struct{ Name string }
	// SummaryMsg delivers a refreshed build summary.
	SummaryMsg struct {
		Summary *client.BuildSummary
		Err     error
	}
	// StatusMsg delivers a refreshed server status.
	StatusMsg struct {
		Status *client.ServerStatus
		Err    error
	}
)

// httpRefresher re-fetches REST state when the session dispatches an event,
// pushing results back into the update loop.
type httpRefresher struct {
	http *client.HTTPClient
	msgs chan<- tea.Msg
}

func (r *httpRefresher) RefreshSummary(projectPath string) {
	s, err := r.http.GetSummary(projectPath)
	r.msgs <- SummaryMsg{Summary: s, Err: err}
}

func (r *httpRefresher) RefreshProjects() {
	s, err := r.http.GetStatus()
	r.msgs <- StatusMsg{Status: s, Err: err}
}

// The TUI has no pane for BOM, variable, or stdlib state yet; the event
// itself still lands in the debug log via the Event hook.
func (r *httpRefresher) RefreshBOM()       {}
func (r *httpRefresher) RefreshVariables() {}
func (r *httpRefresher) RefreshStdlib()    {}

// Model is the root Bubble Tea model.
type Model struct {
	session *client.Session
	http    *client.HTTPClient
	msgs    chan tea.Msg

	projectPath string
	target      string

	keys   KeyMap
	width  int
	height int

	overlay  Overlay
	levelIdx int

	// stageFilter is the active single-stage filter; empty means all stages.
	// stages accumulates the stage names seen in the stream, in first-seen
	// order, so the filter key has something to cycle through.
	stageFilter string
	stages      []string

	statusBar status.Model
	logPane   logs.Model
	summary   summary.Model
	detail    detail.Model
	debug     debug.Model

	subscribed bool // initial subscribe issued
}

// New creates the root model, wiring session hooks through the message
// channel so every callback surfaces as a tea.Msg.
func New(cfg *config.Config) Model {
	msgs := make(chan tea.Msg, 64)
	httpClient := client.NewHTTPClient(cfg.Server.URL, cfg.Server.Token)

	hooks := client.Hooks{
		ConnectionChanged: func(connected bool) { msgs <- ConnectionMsg{Connected: connected} },
		Snapshot:          func(state map[string]interface{}) { msgs <- SnapshotMsg{State: state} },
		Signal:            func(sig client.Signal) { msgs <- SignalMsg{Signal: sig} },
		LogBatch:          func(batch client.LogBatchPayload) { msgs <- LogBatchMsg{Batch: batch} },
		Subscribed:        func(p client.SubscribedPayload) { msgs <- SubscribedMsg{Payload: p} },
		SubscriptionError: func(p client.SubscriptionErrorPayload) { msgs <- SubscriptionErrorMsg{Payload: p} },
		ActionResult:      func(res client.ActionResult) { msgs <- ActionResultMsg{Result: res} },
		Event:             func(name string, _ json.RawMessage) { msgs <- EventMsg{Name: name} },
	}

	session := client.NewSession(client.Options{
		URL:               client.DeriveWSURL(cfg.Server.URL),
		Hooks:             hooks,
		Refresher:         &httpRefresher{http: httpClient, msgs: msgs},
		HandshakeTimeout:  cfg.Reconnect.HandshakeTimeout,
		RequestTimeout:    cfg.Reconnect.RequestTimeout,
		BackoffBase:       cfg.Reconnect.BackoffBase,
		BackoffCap:        cfg.Reconnect.BackoffCap,
		BackoffMultiplier: cfg.Reconnect.BackoffMultiplier,
	})

	levelIdx := 1 // INFO
	for i, l := range logLevels {
		if l == cfg.Logs.MinLevel {
			levelIdx = i
		}
	}

	bar := status.New()
	bar.ProjectPath = cfg.Server.ProjectPath
	bar.MinLevel = logLevels[levelIdx]

	return Model{
		session:     session,
		http:        httpClient,
		msgs:        msgs,
		projectPath: cfg.Server.ProjectPath,
		keys:        DefaultKeyMap(),
		levelIdx:    levelIdx,
		statusBar:   bar,
		logPane:     logs.New(),
		summary:     summary.New(),
		debug:       debug.New(),
	}
}

// Init dials the server and starts pumping bridged messages.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { m.session.Connect(); return nil },
		m.waitMsg(),
	)
}

// waitMsg blocks on the hook bridge and hands the next message to Update.
// Every handler of a bridged message must re-issue it.
func (m Model) waitMsg() tea.Cmd {
	return func() tea.Msg { return <-m.msgs }
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.logPane.Width = msg.Width
		m.logPane.Height = m.logPaneHeight()
		m.summary.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ConnectionMsg:
		m.statusBar.Connected = msg.Connected
		m.debug.Add("ws", map[bool]string{true: "connected", false: "disconnected"}[msg.Connected])
		var cmd tea.Cmd
		if msg.Connected && !m.subscribed {
			m.subscribed = true
			cmd = m.subscribeCmd()
		}
		return m, tea.Batch(cmd, m.waitMsg())

	case SnapshotMsg:
		if b, ok := msg.State["building"].(bool); ok {
			m.statusBar.Building = b
		}
		m.debug.Add("ws", fmt.Sprintf("state snapshot (%d keys)", len(msg.State)))
		return m, m.waitMsg()

	case SignalMsg:
		// A terminal client cannot open an editor, so the one-shot
		// instruction is shown rather than acted on.
		m.statusBar.Notice = describeSignal(msg.Signal)
		m.debug.Add("ev", m.statusBar.Notice)
		return m, m.waitMsg()

	case LogBatchMsg:
		m.logPane.SetEntries(m.session.Entries())
		m.statusBar.EntryCount = len(m.logPane.Entries)
		for _, e := range msg.Batch.Logs {
			if e.Stage != "" && !containsString(m.stages, e.Stage) {
				m.stages = append(m.stages, e.Stage)
			}
		}
		return m, m.waitMsg()

	case SubscribedMsg:
		m.statusBar.Subscribed = true
		m.statusBar.BuildID = msg.Payload.BuildID
		m.statusBar.Target = msg.Payload.Target
		m.debug.Add("sub", "subscribed to "+msg.Payload.BuildID)
		return m, m.waitMsg()

	case SubscriptionErrorMsg:
		m.statusBar.Subscribed = false
		m.statusBar.BuildID = ""
		m.debug.Add("err", "subscription failed: "+msg.Payload.Message)
		return m, m.waitMsg()

	case ActionResultMsg:
		if msg.Err != nil {
			m.debug.Add("err", msg.Err.Error())
		} else if msg.Result.Success {
			m.debug.Add("act", msg.Result.Action+" ok")
		} else {
			m.debug.Add("err", msg.Result.Action+": "+msg.Result.Error)
		}
		return m, m.waitMsg()

	case EventMsg:
		m.debug.Add("ev", msg.Name)
		return m, m.waitMsg()

	case SummaryMsg:
		m.summary.SetSummary(msg.Summary, msg.Err)
		return m, m.waitMsg()

	case StatusMsg:
		if msg.Err == nil && msg.Status != nil {
			m.statusBar.Building = len(msg.Status.RunningBuilds) > 0
		}
		return m, m.waitMsg()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up) && m.overlay == OverlayDebug:
			m.debug.ScrollUp(1)
		case key.Matches(msg, m.keys.Down) && m.overlay == OverlayDebug:
			m.debug.ScrollDown(1)
		case key.Matches(msg, m.keys.Quit):
			m.session.Disconnect()
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.session.Disconnect()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.logPane.MoveUp()
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.logPane.MoveDown()
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		if e := m.logPane.Selected(); e != nil {
			m.detail = detail.New(e)
			m.overlay = OverlayDetail
		}
		return m, nil

	case key.Matches(msg, m.keys.Build):
		return m, m.actionCmd("build", map[string]interface{}{
			"project_path": m.projectPath,
		})

	case key.Matches(msg, m.keys.Cancel):
		if m.statusBar.BuildID == "" {
			return m, nil
		}
		return m, m.actionCmd("cancel_build", map[string]interface{}{
			"build_id": m.statusBar.BuildID,
		})

	case key.Matches(msg, m.keys.Filter):
		m.levelIdx = (m.levelIdx + 1) % len(logLevels)
		m.statusBar.MinLevel = logLevels[m.levelIdx]
		m.logPane.SetEntries(nil)
		m.statusBar.EntryCount = 0
		return m, m.filterCmd()

	case key.Matches(msg, m.keys.Stage):
		if len(m.stages) == 0 {
			return m, nil
		}
		m.stageFilter = nextStage(m.stages, m.stageFilter)
		m.statusBar.Stage = m.stageFilter
		m.logPane.SetEntries(nil)
		m.statusBar.EntryCount = 0
		return m, m.filterCmd()

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		return m, nil

	case key.Matches(msg, m.keys.Resync):
		return m, m.subscribeCmd()
	}

	return m, nil
}

// subscribeCmd opens the log subscription for the configured project. The
// session resets its entry buffer before the frame goes out.
func (m Model) subscribeCmd() tea.Cmd {
	sess := m.session
	projectPath := m.projectPath
	target := m.target
	level := logLevels[m.levelIdx]
	return func() tea.Msg {
		sess.Subscribe(projectPath, target, client.LogFilters{MinLevel: level}, "")
		return nil
	}
}

// filterCmd pushes the current level and stage filters to the server. The
// session clears its entry buffer; the server re-streams from the top.
func (m Model) filterCmd() tea.Cmd {
	sess := m.session
	filters := client.LogFilters{MinLevel: logLevels[m.levelIdx]}
	if m.stageFilter != "" {
		filters.Stages = []string{m.stageFilter}
	}
	return func() tea.Msg {
		sess.UpdateFilters(filters)
		return nil
	}
}

// actionCmd sends a correlated action and surfaces the outcome.
func (m Model) actionCmd(name string, payload map[string]interface{}) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		res, err := sess.SendActionWithResponse(name, payload, 0)
		return ActionResultMsg{Result: res, Err: err}
	}
}

func (m Model) logPaneHeight() int {
	// Status bar and summary each take a bordered block, plus the help line.
	h := m.height - 16
	if h < 5 {
		h = 5
	}
	return h
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	switch m.overlay {
	case OverlayDetail:
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.detail.View())
	case OverlayDebug:
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.debug.View(m.width-8, m.height-4))
	}

	sections := []string{
		m.statusBar.View(),
		m.logPane.View(),
		m.summary.View(),
		theme.StyleDimmed.Render("  j/k:scroll  enter:detail  b:build  c:cancel  f:filter  s:stage  d:events  r:resync  q:quit"),
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// nextStage cycles the stage filter: all stages, then each seen stage in
// order, then back to all.
func nextStage(stages []string, current string) string {
	if current == "" {
		return stages[0]
	}
	for i, s := range stages {
		if s == current {
			if i+1 < len(stages) {
				return stages[i+1]
			}
			return ""
		}
	}
	return ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func describeSignal(sig client.Signal) string {
	switch {
	case sig.OpenFile != "":
		if sig.OpenFileLine > 0 {
			return fmt.Sprintf("open %s:%d", sig.OpenFile, sig.OpenFileLine)
		}
		return "open " + sig.OpenFile
	case sig.OpenLayout != "":
		return "open layout " + sig.OpenLayout
	case sig.OpenKicad != "":
		return "open kicad " + sig.OpenKicad
	case sig.Open3D != "":
		return "open 3d view " + sig.Open3D
	}
	return "signal"
}
