package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/automlhub/api/internal/ledger"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

var _ ledger.JobObserver = (*Hub)(nil)

// Client represents a WebSocket client
type Client struct {
	ProjectID string
	Conn      *websocket.Conn
	Send      chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client subscribed to one project's jobs.
func NewClient(projectID string, conn *websocket.Conn) *Client {
	return &Client{
		ProjectID: projectID,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
	}
}

// trySend queues data unless the client is closed or its buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub fans ledger changes out to the WebSocket clients of each project.
type Hub struct {
	// Clients grouped by project ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	mu     sync.RWMutex
	logger *slog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	ProjectID string
	Message   []byte
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
		done:       make(chan struct{}),
		logger:     logging.OrDefault(logger),
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ProjectID] == nil {
				h.clients[client.ProjectID] = make(map[*Client]bool)
			}
			h.clients[client.ProjectID][client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "project", client.ProjectID)

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("client unregistered", "project", client.ProjectID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.ProjectID] {
				if !client.trySend(msg.Message) {
					h.logger.Warn("dropping slow client", "project", msg.ProjectID)
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers returns the number of clients of a project.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[projectID])
}

// JobChanged sends the job's latest state to the project's subscribers.
func (h *Hub) JobChanged(projectID string, job *model.Job) {
	h.publish(projectID, model.WSJobMessage{
		Type:      model.WSMessageTypeJob,
		ProjectID: projectID,
		Job:       job,
	})
}

// JobDeleted tells the project's subscribers a job is gone.
func (h *Hub) JobDeleted(projectID, jobID string) {
	h.publish(projectID, model.WSJobDeletedMessage{
		Type:      model.WSMessageTypeDeleted,
		ProjectID: projectID,
		JobID:     jobID,
	})
}

// publish never blocks the ledger: a full queue drops the message.
func (h *Hub) publish(projectID string, msg any) {
	if h.Subscribers(projectID) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "project", projectID, "error", err)
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{ProjectID: projectID, Message: data}:
	default:
		h.logger.Warn("broadcast queue full", "project", projectID)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.ProjectID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		client.close()
		if len(clients) == 0 {
			delete(h.clients, client.ProjectID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// HandleConnection streams job changes of projectID until the peer goes away.
func (h *Hub) HandleConnection(c *websocket.Conn, projectID string) {
	client := NewClient(projectID, c)

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error", "project", projectID, "error", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.trySend(data)
		}
	}
}
