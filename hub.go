package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSEvent is the envelope for every message pushed to spectators.
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Client represents one spectator websocket connection
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

// Hub broadcasts game events to all connected spectators. It also
// implements Observer; those callbacks arrive with the game lock held,
// so they only enqueue and never touch a connection directly.
type Hub struct {
	clients    map[*websocket.Conn]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

// broadcastEvent marshals and enqueues one event. Events are dropped
// rather than blocking the caller when the queue is full.
func (h *Hub) broadcastEvent(eventType string, payload interface{}) {
	data, err := json.Marshal(WSEvent{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("Hub: marshal %s event: %v", eventType, err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("Hub: broadcast queue full, dropped %s event", eventType)
	}
}

// Observer implementation.

func (h *Hub) NightResolved(outcome NightOutcome) {
	// The public night result omits the investigation
	public := outcome
	public.Investigation = nil
	h.broadcastEvent("night_result", public)
}

func (h *Hub) VoteResolved(outcome VoteOutcome) {
	h.broadcastEvent("vote_result", outcome)
}

func (h *Hub) StatementMade(s DiscussionStatement) {
	// Roles stay hidden while the game is running
	s.Role = ""
	h.broadcastEvent("statement", s)
}

func (h *Hub) GameEnded(ev GameOverEvent) {
	h.broadcastEvent("game_over", ev)
}

// NarrationChunk streams narrator output to spectators as it arrives.
func (h *Hub) NarrationChunk(text string) {
	h.broadcastEvent("narration", text)
}

func (h *Hub) run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket spectator connected. Total: %d", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket spectator disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for conn, client := range h.clients {
				// Serialize writes to each connection
				client.writeMu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, message)
				client.writeMu.Unlock()

				if err != nil {
					log.Printf("WebSocket write error: %v", err)
					conn.Close()
					select {
					case h.unregister <- conn:
					default:
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// handleWebSocket upgrades a spectator connection. Inbound messages
// are drained and logged; spectators have no commands.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{conn: conn}
	h.register <- client

	go func() {
		defer func() {
			h.unregister <- conn
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			LogWSMessage("IN", r.RemoteAddr, string(message))
		}
	}()
}
