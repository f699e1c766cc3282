// Package events broadcasts hierarchy change events to connected WebSocket
// clients. Delivery is best effort: a slow client drops messages rather than
// stalling the notification path.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/config"
	"github.com/drivemirror/drivemirror/internal/gdrive"
)

// EventType represents the type of change event
type EventType string

const (
	EventFileCreated   EventType = "fileCreated"
	EventFileDeleted   EventType = "fileDeleted"
	EventFolderCreated EventType = "folderCreated"
	EventFolderDeleted EventType = "folderDeleted"
)

// TypeFor maps a record and change direction onto the event type.
func TypeFor(rec *gdrive.Record, created bool) EventType {
	switch {
	case rec.IsFolder() && created:
		return EventFolderCreated
	case rec.IsFolder():
		return EventFolderDeleted
	case created:
		return EventFileCreated
	default:
		return EventFileDeleted
	}
}

// Event is one hierarchy change delivered to clients.
type Event struct {
	Type   EventType      `json:"type"`
	Record *gdrive.Record `json:"record"`
	Path   string         `json:"path,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID       string
	Messages chan []byte
}

// Broker manages WebSocket client connections and event broadcasting
type Broker struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewBroker creates a new broker and starts its dispatch loop.
func NewBroker() *Broker {
	b := &Broker{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 100),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	for {
		select {
		case <-b.done:
			b.mu.Lock()
			for _, client := range b.clients {
				close(client.Messages)
			}
			b.clients = make(map[string]*Client)
			b.mu.Unlock()
			log.Debug().Msg("Event broker stopped")
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client.ID] = client
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Msg("WebSocket client connected")

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client.ID]; ok {
				delete(b.clients, client.ID)
				close(client.Messages)
			}
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Msg("WebSocket client disconnected")

		case event := <-b.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal change event")
				continue
			}

			b.mu.RLock()
			for _, client := range b.clients {
				select {
				case client.Messages <- data:
				default:
					log.Warn().Str("client_id", client.ID).Msg("Client buffer full, dropping event")
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Broadcast queues an event for delivery to all connected clients.
func (b *Broker) Broadcast(event Event) {
	select {
	case b.broadcast <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("Broadcast channel full, dropping event")
	}
}

// Stop gracefully shuts down the broker
func (b *Broker) Stop() {
	close(b.done)
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeWS upgrades the request to a WebSocket connection and streams events
// until the client disconnects.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	client := &Client{
		ID:       fmt.Sprintf("%p-%d", r, time.Now().UnixNano()),
		Messages: make(chan []byte, 32),
	}

	b.register <- client
	defer func() {
		select {
		case b.unregister <- client:
		case <-b.done:
		}
	}()

	// Drain reads so close frames and pongs are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingInterval := config.GetTimeouts().WebSocketPing
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client.Messages:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
