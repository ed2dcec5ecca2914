package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"orienteer/punchcard-go/pkg/reader"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local agent, browsers connect from file:// and localhost
	},
}

// wsMessage is the envelope pushed to websocket clients.
type wsMessage struct {
	Type string           `json:"type"`
	Card *reader.CardRead `json:"card,omitempty"`
	Err  string           `json:"error,omitempty"`
}

// wsClient is one connected websocket consumer.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *wsHub
}

// wsHub fans reader events out to every connected websocket client. Slow
// clients are dropped rather than allowed to stall the broadcast. The clients
// map is owned by the run goroutine; everything reaches it through the
// register/unregister/broadcast channels.
type wsHub struct {
	log        zerolog.Logger
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
}

func newWSHub(log zerolog.Logger) *wsHub {
	return &wsHub{
		log:        log,
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// run is the hub main loop; start it once on its own goroutine.
func (h *wsHub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// serveWS upgrades the request and attaches the client to the hub.
func (h *wsHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	client := &wsClient{conn: conn, send: make(chan []byte, 256), hub: h}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains inbound messages; the feed is one-way, so anything the
// client sends is ignored, but the read keeps close and pong handling alive.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
