// Package transport adapts an established WebSocket connection to the
// engine's message channel. Dialing, handshakes and reconnection are the
// caller's business; this package only moves frames.
package transport

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/alimasry/go-collab-client/client"
)

const maxMsgSize = 64 * 1024

// WSChannel wraps an already-connected *websocket.Conn. Sends are
// serialized with a mutex since gorilla/websocket supports one concurrent
// writer.
type WSChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  zerolog.Logger
}

func NewWSChannel(conn *websocket.Conn, log zerolog.Logger) *WSChannel {
	conn.SetReadLimit(maxMsgSize)
	return &WSChannel{
		conn: conn,
		log:  log.With().Str("component", "ws-channel").Logger(),
	}
}

// Send writes one text frame.
func (c *WSChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadLoop reads frames and feeds them to the dispatcher until the
// connection drops. It returns nil on a normal close.
func (c *WSChannel) ReadLoop(d *client.Dispatcher) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			c.log.Warn().Err(err).Msg("read error")
			return err
		}
		d.Dispatch(data)
	}
}

// Close closes the underlying connection.
func (c *WSChannel) Close() error {
	return c.conn.Close()
}
