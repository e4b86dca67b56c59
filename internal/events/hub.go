package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"syndicate-ledger/internal/observability"
)

// HubConfig configures websocket fan-out behavior.
type HubConfig struct {
	// SendBuffer is the per-subscriber queue length. A subscriber whose
	// queue is full is disconnected rather than slowing publishers down.
	SendBuffer int
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a subscriber may stay silent, pongs included.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultHubConfig returns default websocket hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   64,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Hub broadcasts events to websocket subscribers. Subscribers may narrow
// the stream with ?syndicate_id=.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
}

type subscriber struct {
	conn        *websocket.Conn
	remote      string
	syndicateID string
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
}

// NewHub creates a hub. A nil config uses DefaultHubConfig.
func NewHub(config *HubConfig, logger *log.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Printf("websocket upgrade: %v", err)
		return
	}

	sub := &subscriber{
		conn:        conn,
		remote:      r.RemoteAddr,
		syndicateID: r.URL.Query().Get("syndicate_id"),
		send:        make(chan []byte, h.config.SendBuffer),
		done:        make(chan struct{}),
	}
	h.register(sub)

	h.wg.Add(1)
	go h.writeLoop(sub)
	h.readLoop(sub)
}

// Publish queues e for every matching subscriber.
func (h *Hub) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var slow []*subscriber
	h.mu.RLock()
	for sub := range h.clients {
		if sub.syndicateID != "" && sub.syndicateID != e.SyndicateID {
			continue
		}
		select {
		case sub.send <- data:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Printf("dropping slow websocket subscriber %s", sub.remote)
		h.unregister(sub)
	}
	observability.RecordEventPublished("websocket", string(e.Type), nil)
	return nil
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.clients))
	for sub := range h.clients {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.unregister(sub)
	}
	h.wg.Wait()
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	h.clients[sub] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetWSClients(n)
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	delete(h.clients, sub)
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetWSClients(n)

	sub.closeOnce.Do(func() { close(sub.done) })
}

// readLoop drains control frames so pongs are processed; subscribers
// have nothing to say.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.unregister(sub)

	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only goroutine writing to the connection.
func (h *Hub) writeLoop(sub *subscriber) {
	defer h.wg.Done()
	defer sub.conn.Close()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			sub.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.unregister(sub)
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(sub)
				return
			}
		}
	}
}
