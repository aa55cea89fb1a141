// Package ws adapts websocket connections to collaboration peers.
package ws

import (
	"log"
	"net/http"
	"sync"
	"time"

	"collaborative-whiteboard-server/internal/collab"
	"collaborative-whiteboard-server/internal/integration"
	"collaborative-whiteboard-server/internal/wire"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler receives the lifecycle and messages of a connection.
type Handler interface {
	HandleConnect(p collab.Peer)
	HandleMessage(p collab.Peer, data []byte)
	HandleDisconnecting(p collab.Peer)
	HandleDisconnect(p collab.Peer)
}

// Client is one websocket connection acting as a collaboration peer.
type Client struct {
	id      string
	conn    *websocket.Conn
	handler Handler
	session *collab.Session
	creds   integration.Credentials

	send      chan []byte
	quit      chan struct{}
	closeOnce sync.Once
}

// ServeWS upgrades the request and runs the connection until it closes.
func ServeWS(handler Handler, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		handler: handler,
		session: collab.NewSession(),
		creds: integration.Credentials{
			Authorization: r.Header.Get("Authorization"),
			Cookie:        r.Header.Get("Cookie"),
		},
		send: make(chan []byte, sendBuffer),
		quit: make(chan struct{}),
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) ID() string { return c.id }

func (c *Client) Session() *collab.Session { return c.session }

func (c *Client) Credentials() integration.Credentials { return c.creds }

// Send queues a reliable frame. A receiver that cannot keep up with the
// reliable stream is disconnected rather than silently losing frames.
func (c *Client) Send(data []byte) {
	select {
	case c.send <- data:
	case <-c.quit:
	default:
		log.Printf("Send buffer full for client %s, disconnecting", c.id)
		go c.Close("")
	}
}

// SendVolatile queues a best-effort frame, dropped under backpressure.
func (c *Client) SendVolatile(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// Close tears the connection down, optionally notifying the peer of the
// reason first.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		if reason != "" {
			if frame, err := wire.Encode(wire.EventConnectionClosed, wire.ConnectionClosedPayload{
				Reason: reason,
			}); err == nil {
				select {
				case c.send <- frame:
				default:
				}
			}
		}
		close(c.quit)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.handler.HandleDisconnecting(c)
		c.handler.HandleDisconnect(c)
		c.Close("")
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// the resolution pipeline must finish before any frame is handled
	c.handler.HandleConnect(c)

	for {
		select {
		case <-c.quit:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		c.handler.HandleMessage(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, err := c.conn.NextWriter(websocket.BinaryMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-c.quit:
			// drain what is already queued, then say goodbye
			for {
				select {
				case message := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
