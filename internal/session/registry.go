// Package session owns connection lifecycle and event fan-out: every
// connected client sees every playlist event, in emission order, including
// events for its own commands.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/internal/playlist"
)

// Store is what the registry needs from the playlist store.
type Store interface {
	Sync(fn func(replaced playlist.Event))
	Enqueue(ctx context.Context, ref string, insertAfterID string) (playlist.MediaSource, error)
	Remove(sourceID string) error
	Move(sourceID string, insertAfterID string) error
}

// Config holds configuration for WebSocket connections.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Session identifies one connected user for the lifetime of its connection.
// Sessions are never persisted.
type Session struct {
	ConnectionID string    `json:"connection_id"`
	DisplayName  string    `json:"display_name"`
	JoinedAt     time.Time `json:"joined_at"`
}

// Registry tracks connected clients and fans playlist events out to all of
// them. It subscribes to the store as a single sink, so the order every
// client observes is exactly the store's emission order.
type Registry struct {
	mu          sync.RWMutex
	connections map[*Connection]bool

	upgrader websocket.Upgrader
	config   Config
	store    Store
	clock    clockwork.Clock
}

func NewRegistry(store Store, config Config, clock clockwork.Clock) *Registry {
	return &Registry{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		store:  store,
		clock:  clock,
	}
}

// Join upgrades the HTTP request, delivers the full snapshot as the
// connection's first frame, and adds it to the broadcast set. Snapshot and
// registration happen atomically relative to event emission, so the client
// observes no gap between the snapshot and the diff stream.
func (r *Registry) Join(w http.ResponseWriter, req *http.Request, displayName string) error {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return err
	}

	c := &Connection{
		Session: Session{
			ConnectionID: uuid.New().String(),
			DisplayName:  displayName,
			JoinedAt:     r.clock.Now(),
		},
		conn:     ws,
		send:     make(chan []byte, r.config.SendBufferSize),
		registry: r,
	}

	r.store.Sync(func(replaced playlist.Event) {
		data, err := json.Marshal(replaced)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal snapshot event")
			return
		}
		// The send buffer is fresh and larger than one frame; this cannot
		// block while the store lock is held.
		c.send <- data
		r.register(c)
	})

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ConnectionID).
		Str("display_name", displayName).
		Msg("client joined")
	return nil
}

// Deliver implements playlist.EventSink. It is invoked under the store's
// mutation lock, which serializes broadcasts and keeps the global event
// order identical for every connection.
func (r *Registry) Deliver(event playlist.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event")
		return
	}
	r.broadcast(data)
}

// Chat relays one client's chat line to every connection, sender included.
// Chat frames ride the same per-connection send queues as events, so each
// client sees chat interleaved with events in a consistent order.
func (r *Registry) Chat(c *Connection, text string) playlist.ChatMessage {
	msg := playlist.NewChatMessage(c.DisplayName, text, r.clock.Now())
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal chat message")
		return msg
	}
	r.broadcast(data)
	return msg
}

func (r *Registry) broadcast(data []byte) {
	// Sends happen under the read lock so no channel can be closed from
	// under us: unregister takes the write lock before closing.
	r.mu.RLock()
	var victims []*Connection
	for c := range r.connections {
		select {
		case c.send <- data:
		default:
			victims = append(victims, c)
		}
	}
	r.mu.RUnlock()

	// Slow or dead consumers are dropped rather than stalling the
	// broadcast.
	for _, c := range victims {
		log.Warn().
			Str("connection_id", c.ConnectionID).
			Str("display_name", c.DisplayName).
			Msg("send buffer full, closing connection")
		r.unregister(c)
		c.conn.Close()
	}
}

// deliverTo enqueues one frame for a single connection, typically an ack.
// The read lock guarantees the send channel cannot be closed mid-send.
func (r *Registry) deliverTo(c *Connection, data []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.connections[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (r *Registry) register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c] = true
}

func (r *Registry) unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[c]; !ok {
		return
	}
	delete(r.connections, c)
	close(c.send)

	log.Info().
		Str("connection_id", c.ConnectionID).
		Str("display_name", c.DisplayName).
		Int("remaining", len(r.connections)).
		Msg("client left")
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Sessions returns the sessions of all registered connections.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.connections))
	for c := range r.connections {
		out = append(out, c.Session)
	}
	return out
}
