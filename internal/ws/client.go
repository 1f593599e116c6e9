package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
	sendBufferSize = 64
)

// client is one viewer connection. All writes go through the send channel
// and the write pump so the broadcast loop, application-level pong replies,
// and keepalive pings never interleave on the wire.
type client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan Message
}

func newClient(conn *websocket.Conn, hub *Hub) *client {
	return &client{
		conn: conn,
		hub:  hub,
		send: make(chan Message, sendBufferSize),
	}
}

// trySend queues a message without blocking. Returns false when the buffer
// is full (client too slow).
func (c *client) trySend(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump consumes client messages. The only application-level message a
// viewer sends is {"type":"ping"}, answered with {"type":"pong"}; everything
// else is ignored. Exits on any read error and unregisters the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type == MsgPing {
			c.trySend(Message{Type: MsgPong})
		}
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive through proxies with periodic transport pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
