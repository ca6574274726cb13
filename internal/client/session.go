package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultBackoffBase      = 1 * time.Second
	defaultBackoffCap       = 10 * time.Second
	defaultBackoffMult      = 1.5

	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Sentinel errors surfaced to action callers.
var (
	ErrNotConnected = errors.New("not connected")
	ErrDisconnected = errors.New("disconnected")
	ErrTimeout      = errors.New("request timed out")
)

// ConnState is the connection lifecycle state, owned exclusively by the
// session. Frames are only sent while StateOpen.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

// wsConn is the subset of *websocket.Conn the session uses, abstracted so
// tests can feed frames without a socket.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Dialer opens a duplex connection to the given WebSocket URL.
type Dialer func(url string) (wsConn, error)

// Hooks are the observer callbacks the session drives. Nil fields are no-ops.
// All callbacks are invoked without internal locks held; the session is the
// only writer of server-derived state, so hook bodies may safely write to the
// host's store.
type Hooks struct {
	// ConnectionChanged fires on every Open/not-Open transition.
	ConnectionChanged func(connected bool)
	// Snapshot receives a full-replacement state payload with one-shot
	// signal fields already stripped.
	Snapshot func(state map[string]interface{})
	// Signal fires once per snapshot that carried one-shot instructions.
	Signal func(sig Signal)
	// LogBatch delivers a batch of streamed log entries.
	LogBatch func(batch LogBatchPayload)
	// Subscribed confirms a log subscription with its bound build id.
	Subscribed func(p SubscribedPayload)
	// SubscriptionError reports a failed subscribe.
	SubscriptionError func(p SubscriptionErrorPayload)
	// ActionResult receives results that no pending request claimed.
	ActionResult func(res ActionResult)
	// Event receives every server-pushed event, before refresh dispatch.
	Event func(name string, data json.RawMessage)
}

// Options configures a Session.
type Options struct {
	// URL is the WebSocket endpoint, e.g. "ws://127.0.0.1:8787/ws".
	URL   string
	Hooks Hooks
	// Refresher handles event-driven re-fetches; may be nil.
	Refresher Refresher

	HandshakeTimeout  time.Duration
	RequestTimeout    time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	BackoffMultiplier float64
}

// Session owns one duplex connection to the build server: lifecycle and
// reconnection, request/response correlation, the single log subscription,
// state replication, and event dispatch. Create it with NewSession; a zero
// Session is not usable.
type Session struct {
	url       string
	hooks     Hooks
	refresher Refresher

	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	backoffBase      time.Duration
	backoffCap       time.Duration
	backoffMult      float64

	dial Dialer
	clk  clock

	mu             sync.Mutex
	state          ConnState
	conn           wsConn
	dialStarted    time.Time
	dialGen        uint64
	attempts       int
	reconnectTimer timer
	intentional    bool
	pingStop       chan struct{}

	writeMu sync.Mutex

	// Request correlator state.
	pending    map[string]*pendingRequest
	reqCounter uint64

	// Subscription manager state.
	sub        *Subscription
	subState   SubscriptionState
	entries    []LogEntry
	lastSeenID int64
}

// NewSession creates a session. It does not connect; call Connect.
func NewSession(opts Options) *Session {
	s := &Session{
		url:              opts.URL,
		hooks:            opts.Hooks,
		refresher:        opts.Refresher,
		handshakeTimeout: opts.HandshakeTimeout,
		requestTimeout:   opts.RequestTimeout,
		backoffBase:      opts.BackoffBase,
		backoffCap:       opts.BackoffCap,
		backoffMult:      opts.BackoffMultiplier,
		clk:              realClock{},
		pending:          make(map[string]*pendingRequest),
	}
	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = defaultHandshakeTimeout
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = defaultRequestTimeout
	}
	if s.backoffBase <= 0 {
		s.backoffBase = defaultBackoffBase
	}
	if s.backoffCap <= 0 {
		s.backoffCap = defaultBackoffCap
	}
	if s.backoffMult <= 1 {
		s.backoffMult = defaultBackoffMult
	}
	s.dial = s.gorillaDial
	return s
}

func (s *Session) gorillaDial(wsURL string) (wsConn, error) {
	d := websocket.Dialer{HandshakeTimeout: s.handshakeTimeout}
	conn, _, err := d.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// IsConnected reports whether the connection is currently open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen
}

// Connect ensures a connection attempt is in flight or already open. It never
// returns an error: dial failures schedule a backoff retry and are observable
// through IsConnected and the ConnectionChanged hook.
func (s *Session) Connect() {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.mu.Unlock()
		return
	case StateConnecting:
		if s.clk.Now().Sub(s.dialStarted) < s.handshakeTimeout {
			s.mu.Unlock()
			return
		}
		// A half-open attempt has exceeded the handshake window. Tear it
		// down so it cannot block reconnection forever.
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
	}
	s.intentional = false
	s.state = StateConnecting
	s.dialStarted = s.clk.Now()
	s.dialGen++
	gen := s.dialGen
	dial := s.dial
	wsURL := s.url
	s.mu.Unlock()

	conn, err := dial(wsURL)

	s.mu.Lock()
	if s.dialGen != gen || s.intentional {
		// A newer attempt superseded this one, or Disconnect raced the dial.
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.state = StateDisconnected
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		log.Printf("ws dial %s: %v", wsURL, err)
		return
	}

	s.conn = conn
	s.state = StateOpen
	s.attempts = 0
	stop := make(chan struct{})
	s.pingStop = stop
	s.mu.Unlock()

	log.Printf("ws connected: %s", wsURL)
	go s.readLoop(conn)
	go s.pingLoop(conn, stop)

	if s.hooks.ConnectionChanged != nil {
		s.hooks.ConnectionChanged(true)
	}
	s.resubscribe()
}

// Disconnect tears the connection down intentionally: it cancels any pending
// reconnect timer, rejects all in-flight requests, and suppresses automatic
// reconnection until Connect is called again. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.intentional = true
	s.state = StateClosing
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
	conn := s.conn
	s.conn = nil
	wasOpen := conn != nil
	taken := s.takeAllPendingLocked()
	s.state = StateDisconnected
	s.mu.Unlock()

	rejectAll(taken, ErrDisconnected)
	if conn != nil {
		conn.Close()
	}
	if wasOpen && s.hooks.ConnectionChanged != nil {
		s.hooks.ConnectionChanged(false)
	}
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// scheduleReconnectLocked arms the backoff timer. A second schedule request
// while one is outstanding is a no-op, so at most one reconnect timer is ever
// pending. Caller must hold s.mu.
func (s *Session) scheduleReconnectLocked() {
	if s.intentional || s.reconnectTimer != nil {
		return
	}
	delay := backoffDelay(s.backoffBase, s.backoffMult, s.backoffCap, s.attempts)
	s.attempts++
	s.reconnectTimer = s.clk.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		s.mu.Unlock()
		s.Connect()
	})
	log.Printf("ws reconnect in %v (attempt %d)", delay, s.attempts)
}

// backoffDelay computes min(base * mult^attempt, cap), truncated to whole
// milliseconds the way the reconnect schedule is specified.
func backoffDelay(base time.Duration, mult float64, ceil time.Duration, attempt int) time.Duration {
	ms := int64(float64(base.Milliseconds()) * math.Pow(mult, float64(attempt)))
	if ceilMs := ceil.Milliseconds(); ms > ceilMs {
		ms = ceilMs
	}
	return time.Duration(ms) * time.Millisecond
}

// handleConnError processes a transport error on conn: non-intentional drops
// flip the connected flag, reject every pending request immediately, and
// schedule a reconnect.
func (s *Session) handleConnError(conn wsConn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// Stale connection already replaced; nothing to do.
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = nil
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
	intentional := s.intentional
	s.state = StateDisconnected
	taken := s.takeAllPendingLocked()
	if !intentional {
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	conn.Close()
	rejectAll(taken, ErrDisconnected)
	if !intentional {
		log.Printf("ws closed: %v", err)
		if s.hooks.ConnectionChanged != nil {
			s.hooks.ConnectionChanged(false)
		}
	}
}

// readLoop consumes frames from one connection until it dies. Frames are
// processed strictly in arrival order; malformed frames are dropped and the
// connection kept alive.
func (s *Session) readLoop(conn wsConn) {
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(s.clk.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(s.clk.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleConnError(conn, err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("ws frame dropped: %v", err)
			continue
		}
		s.route(&f)
	}
}

// route type-switches an inbound frame to the component that owns it.
func (s *Session) route(f *Frame) {
	switch f.Type {
	case FrameState:
		s.applySnapshot(f.Data)
	case FrameActionResult:
		s.resolveAction(f)
	case FrameEvent:
		s.dispatchEvent(f.Event, f.Data)
	case FrameSubscribed:
		s.handleSubscribed(f.Data)
	case FrameSubscriptionError:
		s.handleSubscriptionError(f.Data)
	case FrameLogBatch:
		s.handleLogBatch(f.Data)
	case FrameConnected, FrameFiltersUpdated, FrameUnsubscribed:
		// Acknowledgements; informational only.
	default:
		log.Printf("ws unknown frame type %q", f.Type)
	}
}

func (s *Session) pingLoop(conn wsConn, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// send marshals and writes one frame. It fails with ErrNotConnected instead
// of queueing when the connection is not open.
func (s *Session) send(f outboundFrame) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", f.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// DeriveWSURL converts an HTTP base URL into the state/log channel endpoint:
// http→ws, https→wss, fixed /ws path.
func DeriveWSURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return "ws://127.0.0.1:8787/ws"
	}
	scheme := "ws"
	if strings.HasPrefix(u.Scheme, "https") || strings.HasPrefix(u.Scheme, "wss") {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host)
}
