package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// sendBuffer is how many outbound messages a connection may have queued
// before the hub gives up on it.
const sendBuffer = 64

// wsClient is one WebSocket attached to a game. Messages are queued on send
// and written in order by writeLoop.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	// kick is closed when the client fell behind and must reconnect.
	kick     chan struct{}
	kickOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		kick: make(chan struct{}),
	}
}

// drop asks writeLoop to close the connection. Safe to call more than once.
func (c *wsClient) drop() {
	c.kickOnce.Do(func() { close(c.kick) })
}

func (c *wsClient) dropped() bool {
	select {
	case <-c.kick:
		return true
	default:
		return false
	}
}

// enqueue queues data without blocking. It reports false if the queue is full.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the send queue until ctx is done or a write fails.
func (c *wsClient) writeLoop(ctx context.Context, logger logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			// A missed event cannot be replayed; the client resyncs on reconnect.
			c.conn.Close(SlowConsumerError, "Client fell behind; reconnect to resync.")
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithError(err).Warn("websocket write failed")
				return
			}
		}
	}
}

// Hub tracks the WebSocket clients attached to each game.
type Hub struct {
	mu      sync.Mutex
	clients map[uuid.UUID]map[*wsClient]struct{}
	logger  logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*wsClient]struct{}),
		logger:  logger,
	}
}

func (h *Hub) add(gameID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[gameID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[gameID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(gameID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[gameID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, gameID)
	}
}

// Count returns how many clients are attached to a game.
func (h *Hub) Count(gameID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[gameID])
}

// Broadcast queues data for every client of a game. It never blocks, so it is
// safe to call while a game lock is held. A client whose queue is full is
// detached and closed so that it reconnects and receives a fresh snapshot.
func (h *Hub) Broadcast(gameID uuid.UUID, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[gameID]
	for c := range set {
		if c.enqueue(data) {
			continue
		}
		delete(set, c)
		c.drop()
		h.logger.WithField("game", gameID).Warn("client send queue full, disconnecting")
	}
	if len(set) == 0 {
		delete(h.clients, gameID)
	}
}
