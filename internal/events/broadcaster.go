// Package events streams cluster assignments to rendering clients over
// Server-Sent Events.
package events

import (
	"fmt"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/constellation/internal/cluster"
	"github.com/thebtf/constellation/pkg/models"
)

// Event types.
const (
	TypeConnected  = "connected"
	TypeAssignment = "assignment"
	TypeMerge      = "merge"
)

// DefaultClientBuffer is how many events a client may lag behind before it
// is dropped.
const DefaultClientBuffer = 64

// Event is the payload of one SSE message.
type Event struct {
	Assignment *models.ClusterAssignment `json:"assignment,omitempty"`
	Type       string                    `json:"type"`
	ClientID   string                    `json:"clientId,omitempty"`
	Version    uint64                    `json:"version,omitempty"`
	Clusters   int                       `json:"clusters,omitempty"`
}

type client struct {
	send chan []byte
	id   string
}

// Broadcaster manages SSE client connections and fans events out to them.
// It implements cluster.Listener.
type Broadcaster struct {
	clients map[string]*client
	nextID  int
	buffer  int
	mu      sync.RWMutex
}

var _ cluster.Listener = (*Broadcaster)(nil)

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*client),
		buffer:  DefaultClientBuffer,
	}
}

// OnAssignment broadcasts an insertion result. Insertions that bridged
// clusters are sent as merge events.
func (b *Broadcaster) OnAssignment(assignment models.ClusterAssignment, snapshot *cluster.Snapshot) {
	ev := Event{Type: TypeAssignment, Assignment: &assignment}
	if assignment.Merged() {
		ev.Type = TypeMerge
	}
	if snapshot != nil {
		ev.Version = snapshot.Version()
		ev.Clusters = snapshot.ClusterCount()
	}
	b.Broadcast(ev)
}

func (b *Broadcaster) addClient() *client {
	b.mu.Lock()
	b.nextID++
	c := &client{
		id:   fmt.Sprintf("client-%d", b.nextID),
		send: make(chan []byte, b.buffer),
	}
	b.clients[c.id] = c
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", c.id).
		Int("totalClients", clientCount).
		Msg("SSE client connected")

	return c
}

// removeClient unregisters a client and closes its channel. Safe to call
// more than once.
func (b *Broadcaster) removeClient(id string) {
	b.mu.Lock()
	c, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
		close(c.send)
	}
	clientCount := len(b.clients)
	b.mu.Unlock()

	if exists {
		log.Debug().
			Str("clientId", id).
			Int("totalClients", clientCount).
			Msg("SSE client disconnected")
	}
}

// Broadcast sends a message to all connected clients. A client whose buffer
// is full is disconnected instead of blocking the caller.
func (b *Broadcaster) Broadcast(data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}

	var slow []string

	b.mu.RLock()
	for id, c := range b.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range slow {
		log.Warn().Str("clientId", id).Msg("SSE client too slow, dropping")
		b.removeClient(id)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE handles an SSE connection request until the client goes away.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	c := b.addClient()
	defer b.removeClient(c.id)

	hello, err := json.Marshal(Event{Type: TypeConnected, ClientID: c.id})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}
	if !writeMessage(w, flusher, hello) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			if !writeMessage(w, flusher, payload) {
				return
			}
		}
	}
}

func writeMessage(w http.ResponseWriter, flusher http.Flusher, payload []byte) bool {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		log.Debug().Err(err).Msg("Failed to write to SSE client")
		return false
	}
	flusher.Flush()
	return true
}
