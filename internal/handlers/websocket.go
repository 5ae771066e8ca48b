package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"cardroll-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	engine *services.Engine
	hub    *WebSocketHub
}

type WebSocketHub struct {
	clients    map[*Client]bool
	bySession  map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	view       func(code, playerID string) (interface{}, error)
}

type Client struct {
	PlayerID    string
	SessionCode string
	Conn        *websocket.Conn

	writeMu sync.Mutex
}

// send serializes writes; the hub and the read loop both push frames.
func (c *Client) send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(msg)
}

type Message struct {
	Type        string      `json:"type"`
	SessionCode string      `json:"session_code,omitempty"`
	Data        interface{} `json:"data"`
}

func NewWebSocketHandler(engine *services.Engine) *WebSocketHandler {
	hub := &WebSocketHub{
		clients:    make(map[*Client]bool),
		bySession:  make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 100),
	}
	hub.view = func(code, playerID string) (interface{}, error) {
		return engine.GetPublicView(code, playerID)
	}

	go hub.run()

	return &WebSocketHandler{
		engine: engine,
		hub:    hub,
	}
}

// HandleWebSocket subscribes a player to one session's updates. Presence on
// the socket doubles as the player's liveness flag.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	playerID := c.GetString("player_id")
	code := c.Query("session")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session query parameter required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	client := &Client{
		PlayerID:    playerID,
		SessionCode: code,
		Conn:        conn,
	}

	h.hub.register <- client
	h.engine.MarkConnected(code, playerID, true)

	defer func() {
		h.hub.unregister <- client
		h.engine.MarkConnected(code, playerID, false)
		conn.Close()
	}()

	h.sendView(client)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		switch msg.Type {
		case "PING":
			client.send(Message{
				Type: "PONG",
				Data: gin.H{"timestamp": time.Now().Unix()},
			})
		case "REFRESH":
			h.sendView(client)
		}
	}
}

func (h *WebSocketHandler) sendView(client *Client) {
	view, err := h.engine.GetPublicView(client.SessionCode, client.PlayerID)
	if err != nil {
		log.Printf("Failed to project session for WS: %v", err)
		return
	}

	client.send(Message{
		Type:        "SESSION_UPDATE",
		SessionCode: client.SessionCode,
		Data:        view,
	})
}

// BroadcastSession implements services.Broadcaster. Each subscriber gets
// their own projection, so hidden commitments stay hidden per viewer.
func (h *WebSocketHandler) BroadcastSession(code string) {
	h.hub.broadcast <- &Message{
		Type:        "SESSION_UPDATE",
		SessionCode: code,
	}
}

func (hub *WebSocketHub) run() {
	for {
		select {
		case client := <-hub.register:
			hub.clients[client] = true
			if hub.bySession[client.SessionCode] == nil {
				hub.bySession[client.SessionCode] = make(map[*Client]bool)
			}
			hub.bySession[client.SessionCode][client] = true
			log.Printf("Client registered: %s on %s", client.PlayerID, client.SessionCode)

		case client := <-hub.unregister:
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				delete(hub.bySession[client.SessionCode], client)
				log.Printf("Client unregistered: %s", client.PlayerID)
			}

		case message := <-hub.broadcast:
			for client := range hub.bySession[message.SessionCode] {
				view, err := hub.view(message.SessionCode, client.PlayerID)
				if err != nil {
					continue
				}
				client.send(Message{
					Type:        "SESSION_UPDATE",
					SessionCode: message.SessionCode,
					Data:        view,
				})
			}
		}
	}
}
