package live

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StatusFeed broadcasts PaperPortfolio equity/position snapshots and recent
// ticker events to locally-connected observers over a gorilla/websocket
// server. Unlike LiveMarketClient (an outbound RFC-6455 client that must
// parse frames at the byte level, see client.go), this is a read-only local
// server with no such constraint, so the ecosystem library is the right
// tool.
type StatusFeed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// StatusSnapshot is one broadcast frame: current equity/balance and the
// open positions, plus the latest ticker price per symbol if any arrived
// since the last broadcast.
type StatusSnapshot struct {
	Equity    float64                  `json:"equity"`
	Balance   float64                  `json:"balance"`
	Positions map[string]PaperPosition `json:"positions"`
	Tickers   map[string]float64       `json:"tickers,omitempty"`
}

// NewStatusFeed constructs a feed that accepts connections from any origin,
// matching the teacher's local-observer websocket handlers (this server has
// no cross-origin credential exposure: it is read-only and carries no
// secrets).
func NewStatusFeed() *StatusFeed {
	return &StatusFeed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler upgrades the HTTP request to a websocket connection and registers
// the client for broadcasts until it disconnects.
func (f *StatusFeed) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("live: status feed upgrade failed")
		return
	}

	f.mu.Lock()
	f.clients[conn] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	// Drain and discard inbound frames; this is a broadcast-only feed, but
	// the read loop must run so ping/close control frames are handled and
	// the handler notices disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends snap to every connected observer, dropping (and logging)
// any connection that errors on write.
func (f *StatusFeed) Broadcast(snap StatusSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Msg("live: marshal status snapshot")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debug().Err(err).Msg("live: status feed client write failed, dropping")
			conn.Close()
			delete(f.clients, conn)
		}
	}
}
