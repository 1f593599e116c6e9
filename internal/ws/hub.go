// Package ws is the live push channel: a registry of viewer WebSocket
// connections that receives a state snapshot on connect and full-replace
// pushes on every change.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sweatstake/game-engine/internal/metrics"
	"github.com/sweatstake/game-engine/internal/model"
)

// Message types on the push channel.
const (
	MsgOddsHistory       = "odds_history"
	MsgLeaderboardUpdate = "leaderboard_update"
	MsgGameEnd           = "game_end"
	MsgPing              = "ping"
	MsgPong              = "pong"
)

// Message is one JSON frame on the push channel. odds_history and
// leaderboard_update carry full replacements, never deltas; game_end has no
// payload and signals clients to re-fetch game state.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Snapshotter supplies the initial state pushed to a newly connected
// viewer: the active game's full odds history and, when one has been
// computed, the latest leaderboard.
type Snapshotter interface {
	Snapshot(ctx context.Context) (history []model.TimeOdds, standings []model.LeaderboardEntry, err error)
}

// Hub manages viewer connections and fans broadcast messages out to all of
// them. The registry mutates concurrently with broadcast sends; per-client
// buffered send queues decouple the two, and a client too slow to drain its
// queue is dropped rather than allowed to stall the rest.
type Hub struct {
	snapshot Snapshotter

	mu      sync.RWMutex
	clients map[*client]bool

	broadcast  chan Message
	register   chan *client
	unregister chan *client
}

// NewHub creates a hub. The snapshotter may be nil in tests that only
// exercise broadcasting.
func NewHub(snapshot Snapshotter) *Hub {
	return &Hub{
		snapshot:   snapshot,
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// SetSnapshot installs the snapshotter. Called once during wiring, before
// the hub accepts connections; the snapshotter needs components that are
// themselves constructed against the hub.
func (h *Hub) SetSnapshot(snapshot Snapshotter) {
	h.snapshot = snapshot
}

// Run starts the hub's event loop. Must be called in a goroutine; returns
// when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("viewer connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("viewer disconnected", "total", total)

		case msg := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.RUnlock()

			for _, c := range targets {
				if !c.trySend(msg) {
					// Client can't keep up; its read pump will unregister it.
					c.conn.Close()
				}
			}
			metrics.BroadcastsTotal.WithLabelValues(msg.Type).Inc()
		}
	}
}

// BroadcastOddsHistory pushes the full price history (replace, not delta).
func (h *Hub) BroadcastOddsHistory(history []model.TimeOdds) {
	h.publish(Message{Type: MsgOddsHistory, Data: history})
}

// BroadcastLeaderboard pushes the full top-10 standings.
func (h *Hub) BroadcastLeaderboard(entries []model.LeaderboardEntry) {
	h.publish(Message{Type: MsgLeaderboardUpdate, Data: entries})
}

// BroadcastGameEnd signals clients to re-fetch game state.
func (h *Hub) BroadcastGameEnd() {
	h.publish(Message{Type: MsgGameEnd})
}

func (h *Hub) publish(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop if buffer full to avoid blocking the poll loop; the next
		// tick replaces the full state anyway.
		slog.Warn("broadcast buffer full, dropping message", "type", msg.Type)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
	metrics.WebSocketClients.Set(0)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // game runs behind a trusted frontend origin
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. The
// snapshot is queued onto the client's send buffer before the client joins
// the registry, so a viewer always sees odds_history, then any cached
// leaderboard, before the first live tick message.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := newClient(conn, h)

	if h.snapshot != nil {
		history, standings, err := h.snapshot.Snapshot(r.Context())
		if err != nil {
			slog.Error("snapshot on connect failed", "err", err)
		} else {
			if history != nil {
				c.trySend(Message{Type: MsgOddsHistory, Data: history})
			}
			if standings != nil {
				c.trySend(Message{Type: MsgLeaderboardUpdate, Data: standings})
			}
		}
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}
