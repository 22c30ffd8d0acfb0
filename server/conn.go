package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/logging"
	"golang.org/x/time/rate"
)

// Conn is one live client connection. The caller identity is fixed at
// upgrade time.
type Conn struct {
	id      string
	actor   core.Actor
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  logging.Logger
	onDrop  func()

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Actor returns the caller.
func (c *Conn) Actor() core.Actor { return c.actor }

// enqueue queues frame for the write pump. A full buffer marks the client as
// a slow consumer and closes the connection.
func (c *Conn) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("ws.slow_consumer", "conn", c.id, "buffer", cap(c.send))
		if c.onDrop != nil {
			c.onDrop()
		}
		c.closeLocked()
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Conn) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) addRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *Conn) removeRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

func (c *Conn) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Conn) takeRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	c.rooms = map[string]struct{}{}
	return out
}

// writePump serializes every write to the socket and keeps it alive with
// pings. It closes the socket when the send buffer is closed.
func (s *Server) writePump(c *Conn) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("ws.write.error", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ws.ping.error", "conn", c.id, "error", err)
				return
			}
		}
	}
}

// readPump handles inbound frames one at a time, so requests of one
// connection take effect in the order they were sent.
func (s *Server) readPump(c *Conn) {
	defer func() {
		c.close()
		_ = c.ws.Close()
		s.disconnect(c)
	}()

	c.ws.SetReadLimit(s.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("ws.read.error", "conn", c.id, "error", err)
			}
			return
		}
		s.handleFrame(c, data)
	}
}
