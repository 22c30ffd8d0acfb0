package server

import (
	"sort"
	"sync"
	"time"
)

// Hub tracks live connections and the rooms they joined. It is created per
// server and closed with it. Each room carries its own lock so busy rooms do
// not block each other.
type Hub struct {
	reorderWindow time.Duration

	mu     sync.RWMutex
	conns  map[string]*Conn
	rooms  map[string]*roomState
	closed bool
}

type roomState struct {
	id  string
	seq *sequencer

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewHub creates an empty hub.
func NewHub(reorderWindow time.Duration) *Hub {
	return &Hub{
		reorderWindow: reorderWindow,
		conns:         map[string]*Conn{},
		rooms:         map[string]*roomState{},
	}
}

func (h *Hub) register(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	return true
}

// join attaches c to roomID, creating the room's live state on first use. It
// reports whether c was not in the room before.
func (h *Hub) join(c *Conn, roomID string) bool {
	h.mu.Lock()
	rs, ok := h.rooms[roomID]
	if !ok {
		rs = &roomState{id: roomID, seq: newSequencer(h.reorderWindow), conns: map[string]*Conn{}}
		h.rooms[roomID] = rs
	}
	rs.mu.Lock()
	_, already := rs.conns[c.id]
	rs.conns[c.id] = c
	rs.mu.Unlock()
	c.addRoom(roomID)
	h.mu.Unlock()
	return !already
}

// seed tells the room's sequencer which sequence comes after lastSeq. It
// must run after join so no message persisted in between is missed; a
// sequencer that already saw a message keeps its position.
func (h *Hub) seed(roomID string, lastSeq int64) {
	if rs := h.room(roomID); rs != nil {
		rs.seq.seed(lastSeq + 1)
	}
}

// leave detaches c from roomID and reports whether it was attached.
func (h *Hub) leave(c *Conn, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.removeRoom(roomID)
	return h.detachLocked(c, roomID)
}

func (h *Hub) detachLocked(c *Conn, roomID string) bool {
	rs, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	rs.mu.Lock()
	_, was := rs.conns[c.id]
	delete(rs.conns, c.id)
	empty := len(rs.conns) == 0
	rs.mu.Unlock()
	if empty {
		rs.seq.stop()
		delete(h.rooms, roomID)
	}
	return was
}

// unregister removes c everywhere and returns the rooms it was attached to.
func (h *Hub) unregister(c *Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
	rooms := c.takeRooms()
	left := rooms[:0]
	for _, roomID := range rooms {
		if h.detachLocked(c, roomID) {
			left = append(left, roomID)
		}
	}
	return left
}

func (h *Hub) room(roomID string) *roomState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// online returns the ids of actors with at least one connection in roomID.
func (h *Hub) online(roomID string) map[string]bool {
	out := map[string]bool{}
	rs := h.room(roomID)
	if rs == nil {
		return out
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, c := range rs.conns {
		out[c.actor.ID] = true
	}
	return out
}

// broadcast sends frame(c) to every connection of roomID; connections for
// which frame returns nil are skipped.
func (h *Hub) broadcast(roomID string, frame func(c *Conn) []byte) {
	rs := h.room(roomID)
	if rs == nil {
		return
	}
	rs.broadcast(frame)
}

func (rs *roomState) broadcast(frame func(c *Conn) []byte) {
	rs.mu.Lock()
	conns := make([]*Conn, 0, len(rs.conns))
	for _, c := range rs.conns {
		conns = append(conns, c)
	}
	rs.mu.Unlock()
	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	for _, c := range conns {
		if b := frame(c); b != nil {
			c.enqueue(b)
		}
	}
}

// sequenced delivers a room message's frames in sequence order.
func (h *Hub) sequenced(roomID string, seq int64, frame func(c *Conn) []byte) {
	rs := h.room(roomID)
	if rs == nil {
		return
	}
	rs.seq.submit(seq, func() { rs.broadcast(frame) })
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every connection and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	for _, rs := range h.rooms {
		rs.seq.stop()
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
