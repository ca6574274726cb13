package mockd

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// logBatchSize bounds how many entries go out in one log_batch frame.
const logBatchSize = 100

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	buildID  string
	minLevel string
	stages   []string
	lastSent int64
	active   bool
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// enqueue marshals and queues one frame, dropping it if the client is slow.
func (c *client) enqueue(frame interface{}) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("marshal frame: %v", err)
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// subscribe binds this client to a build's log stream, resetting the stream
// position so the history replays from the beginning.
func (c *client) subscribe(buildID, minLevel string, stages []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buildID = buildID
	c.minLevel = minLevel
	c.stages = stages
	c.lastSent = 0
	c.active = true
}

// setFilters replaces the filters and rewinds the stream position.
func (c *client) setFilters(minLevel string, stages []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	if minLevel != "" {
		c.minLevel = minLevel
	}
	c.stages = stages
	c.lastSent = 0
	return true
}

func (c *client) unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.buildID = ""
	c.lastSent = 0
}

// Broadcaster fans server frames out to every connected client and drives
// each client's log stream from the store.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	store   *Store
}

func NewBroadcaster(store *Store) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]bool),
		store:   store,
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn, state map[string]interface{}) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	c.enqueue(map[string]interface{}{"type": "connected"})
	if state != nil {
		c.enqueue(map[string]interface{}{"type": "state", "data": state})
	}
	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// BroadcastState pushes a full state snapshot to every client.
func (b *Broadcaster) BroadcastState(state map[string]interface{}) {
	b.broadcast(map[string]interface{}{"type": "state", "data": state})
}

// BroadcastEvent pushes a named event to every client.
func (b *Broadcaster) BroadcastEvent(name string, data map[string]interface{}) {
	b.broadcast(map[string]interface{}{"type": "event", "event": name, "data": data})
}

func (b *Broadcaster) broadcast(frame interface{}) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(frame) {
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

// PumpLogs sends each subscribed client the entries it has not seen yet for
// the given build. Called by the simulator after appending logs and by the
// subscription handlers to replay history.
func (b *Broadcaster) PumpLogs(buildID string) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.pumpClient(c, buildID)
	}
}

func (b *Broadcaster) pumpClient(c *client, buildID string) {
	c.mu.Lock()
	if !c.active || (buildID != "" && c.buildID != buildID) {
		c.mu.Unlock()
		return
	}
	target := c.buildID
	minLevel := c.minLevel
	stages := c.stages
	after := c.lastSent
	c.mu.Unlock()

	entries := b.store.Logs(target, minLevel, stages, after)
	for len(entries) > 0 {
		n := len(entries)
		if n > logBatchSize {
			n = logBatchSize
		}
		batch := entries[:n]
		entries = entries[n:]
		lastID := batch[n-1].ID

		ok := c.enqueue(map[string]interface{}{
			"type": "log_batch",
			"data": map[string]interface{}{
				"logs":    batch,
				"last_id": lastID,
				"count":   n,
			},
		})
		if !ok {
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
			return
		}
		c.mu.Lock()
		c.lastSent = lastID
		c.mu.Unlock()
	}
}
