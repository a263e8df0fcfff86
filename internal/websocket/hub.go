package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Message types published on the event feed
const (
	MessageAnnouncement  = "announcement"
	MessageBackupCreated = "backup.created"
	MessageBackupEvicted = "backup.evicted"
	MessageRestoreState  = "restore.state"
	MessageRestoreFailed = "restore.failed"
)

const (
	replaySize   = 32
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Message is one feed event. Seq increases by one per published message, so
// a client can tell when it missed some.
type Message struct {
	Seq       uint64      `json:"seq"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client is one subscribed WebSocket connection
type Client struct {
	ID    string
	Actor string
	Conn  *websocket.Conn
	Send  chan *Message
	Hub   *Hub
}

// Hub fans orchestrator events out to every connected client. New clients
// first receive the most recent events.
type Hub struct {
	clients map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
	broadcast  chan *Message

	// owned by the Serve goroutine
	replay []*Message

	seq      atomic.Uint64
	done     chan struct{}
	doneOnce sync.Once
	mu       sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
	}
}

// Serve runs the hub's main loop until ctx is done
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.remember(message)
			h.broadcastToAll(message)

		case <-ctx.Done():
			log.Println("[WebSocket] Hub shutting down")
			h.shutdown()
			return ctx.Err()
		}
	}
}

func (h *Hub) String() string {
	return "websocket-hub"
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	for _, message := range h.replay {
		select {
		case client.Send <- message:
		default:
		}
	}

	log.Printf("[WebSocket] Client %s (actor=%s) subscribed, replayed %d events. Clients: %d",
		client.ID, client.Actor, len(h.replay), count)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		log.Printf("[WebSocket] Client %s unsubscribed. Clients: %d", client.ID, len(h.clients))
	}
}

func (h *Hub) remember(message *Message) {
	h.replay = append(h.replay, message)
	if len(h.replay) > replaySize {
		h.replay = h.replay[len(h.replay)-replaySize:]
	}
}

func (h *Hub) broadcastToAll(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.Send <- message:
		default:
			// slow client: it sees the gap in Seq
			log.Printf("[WebSocket] Client %s send channel full, dropping message %d", client.ID, message.Seq)
		}
	}
}

// ClientCount returns the number of subscribed clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues a message for all clients. It never blocks the caller:
// when the queue is full the message is dropped.
func (h *Hub) Publish(msgType string, payload interface{}) {
	message := &Message{
		Seq:       h.seq.Add(1),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		log.Printf("[WebSocket] Broadcast queue full, dropping %s message", msgType)
	}
}

// leave unsubscribes client unless the hub already stopped
func (h *Hub) leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) shutdown() {
	h.doneOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
		if client.Conn != nil {
			client.Conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
}

// ReadPump keeps the connection alive and detects when the client goes away.
// The feed is one-way, anything the client sends is discarded.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			return
		}
	}
}

// WritePump writes queued messages and keepalive pings until Send closes
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("[WebSocket] Failed to marshal %s message: %v", message.Type, err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
