// Package memstore is a volatile core.Gateway for tests, demos and single
// process deployments.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentroom/core"
)

type roomLog struct {
	messages []core.Message
	byID     map[string]int
}

// Store keeps rooms, actors, messages, markers and relationships in maps
// guarded by one RWMutex. Values are cloned on the way in and out.
type Store struct {
	mu            sync.RWMutex
	rooms         map[string]core.Room
	actors        map[string]core.Actor
	handles       map[string]string // handle key -> actor id
	definitions   map[string]core.AgentDefinition
	boundDefs     map[string]string // definition id -> agent actor id
	logs          map[string]*roomLog
	markers       map[string]map[string]core.ReadMarker // room -> actor -> marker
	relationships map[string][]core.Relationship
	now           func() time.Time
}

var _ core.Gateway = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		rooms:         map[string]core.Room{},
		actors:        map[string]core.Actor{},
		handles:       map[string]string{},
		definitions:   map[string]core.AgentDefinition{},
		boundDefs:     map[string]string{},
		logs:          map[string]*roomLog{},
		markers:       map[string]map[string]core.ReadMarker{},
		relationships: map[string][]core.Relationship{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateRoom stores a new room.
func (s *Store) CreateRoom(_ context.Context, room core.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.ID]; exists {
		return fmt.Errorf("%w: room %s exists", core.ErrConflict, room.ID)
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}
	s.rooms[room.ID] = room.Clone()
	s.logs[room.ID] = &roomLog{byID: map[string]int{}}
	return nil
}

// GetRoom returns a copy of the room.
func (s *Store) GetRoom(_ context.Context, roomID string) (*core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", core.ErrNotFound, roomID)
	}
	c := r.Clone()
	return &c, nil
}

// AddRoomMember appends actorID to the room membership.
func (s *Store) AddRoomMember(_ context.Context, roomID, actorID string, joinedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false, fmt.Errorf("%w: room %s", core.ErrNotFound, roomID)
	}
	if _, ok := s.actors[actorID]; !ok {
		return false, fmt.Errorf("%w: actor %s", core.ErrNotFound, actorID)
	}
	changed := r.AddMember(actorID, joinedAt)
	s.rooms[roomID] = r
	return changed, nil
}

// PutActor creates or updates an actor, enforcing handle and definition uniqueness.
func (s *Store) PutActor(_ context.Context, actor core.Actor) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := actor.HandleKey()
	if owner, ok := s.handles[key]; ok && owner != actor.ID {
		return fmt.Errorf("%w: handle %q is taken", core.ErrConflict, actor.Handle)
	}
	if def := actor.DefinitionID(); def != "" {
		if owner, ok := s.boundDefs[def]; ok && owner != actor.ID {
			return fmt.Errorf("%w: agent definition %s already has actor %s", core.ErrConflict, def, owner)
		}
	}
	if prev, ok := s.actors[actor.ID]; ok {
		delete(s.handles, prev.HandleKey())
		if def := prev.DefinitionID(); def != "" {
			delete(s.boundDefs, def)
		}
	}
	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = s.now()
	}
	s.actors[actor.ID] = actor.Clone()
	s.handles[key] = actor.ID
	if def := actor.DefinitionID(); def != "" {
		s.boundDefs[def] = actor.ID
	}
	return nil
}

// GetActor returns a copy of the actor.
func (s *Store) GetActor(_ context.Context, actorID string) (*core.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[actorID]
	if !ok {
		return nil, fmt.Errorf("%w: actor %s", core.ErrNotFound, actorID)
	}
	c := a.Clone()
	return &c, nil
}

// GetActorByHandle resolves a handle case-insensitively.
func (s *Store) GetActorByHandle(ctx context.Context, handle string) (*core.Actor, error) {
	s.mu.RLock()
	id, ok := s.handles[core.HandleKey(handle)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: handle %q", core.ErrNotFound, handle)
	}
	return s.GetActor(ctx, id)
}

// ListActors returns the known actors among actorIDs in input order; unknown ids are skipped.
func (s *Store) ListActors(_ context.Context, actorIDs []string) ([]core.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Actor, 0, len(actorIDs))
	for _, id := range actorIDs {
		if a, ok := s.actors[id]; ok {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// PutAgentDefinition creates or replaces a definition.
func (s *Store) PutAgentDefinition(_ context.Context, def core.AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	def.Tools = append([]string(nil), def.Tools...)
	s.definitions[def.ID] = def
	return nil
}

// GetAgentDefinition returns a definition.
func (s *Store) GetAgentDefinition(_ context.Context, definitionID string) (*core.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.definitions[definitionID]
	if !ok {
		return nil, fmt.Errorf("%w: agent definition %s", core.ErrNotFound, definitionID)
	}
	d.Tools = append([]string(nil), d.Tools...)
	return &d, nil
}

// AppendMessage assigns the next sequence number and stores msg.
func (s *Store) AppendMessage(_ context.Context, msg core.Message) (core.Message, error) {
	if err := msg.Validate(); err != nil {
		return core.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[msg.RoomID]
	if !ok {
		return core.Message{}, fmt.Errorf("%w: room %s", core.ErrNotFound, msg.RoomID)
	}
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if _, dup := log.byID[msg.ID]; dup {
		return core.Message{}, fmt.Errorf("%w: message %s exists", core.ErrConflict, msg.ID)
	}
	var last time.Time
	if n := len(log.messages); n > 0 {
		last = log.messages[n-1].CreatedAt
	}
	msg.CreatedAt = core.NextCreatedAt(msg.CreatedAt, s.now(), last)
	msg.Seq = int64(len(log.messages)) + 1
	stored := msg.Clone()
	log.byID[msg.ID] = len(log.messages)
	log.messages = append(log.messages, stored)
	return stored.Clone(), nil
}

// GetMessage returns one message.
func (s *Store) GetMessage(_ context.Context, roomID, messageID string) (*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", core.ErrNotFound, roomID)
	}
	i, ok := log.byID[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", core.ErrNotFound, messageID)
	}
	m := log.messages[i].Clone()
	return &m, nil
}

// ListMessages returns messages after afterSeq in sequence order.
func (s *Store) ListMessages(_ context.Context, roomID string, afterSeq int64, limit int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", core.ErrNotFound, roomID)
	}
	start := int(afterSeq)
	if start < 0 {
		start = 0
	}
	if start >= len(log.messages) {
		return []core.Message{}, nil
	}
	end := len(log.messages)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]core.Message, 0, end-start)
	for _, m := range log.messages[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

// RecentMessages returns the last n messages in chronological order.
func (s *Store) RecentMessages(_ context.Context, roomID string, n int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", core.ErrNotFound, roomID)
	}
	if n <= 0 {
		return []core.Message{}, nil
	}
	start := len(log.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]core.Message, 0, len(log.messages)-start)
	for _, m := range log.messages[start:] {
		out = append(out, m.Clone())
	}
	return out, nil
}

// AdvanceReadMarker moves the marker forward only.
func (s *Store) AdvanceReadMarker(_ context.Context, marker core.ReadMarker) (core.ReadMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[marker.RoomID]; !ok {
		return core.ReadMarker{}, fmt.Errorf("%w: room %s", core.ErrNotFound, marker.RoomID)
	}
	byActor, ok := s.markers[marker.RoomID]
	if !ok {
		byActor = map[string]core.ReadMarker{}
		s.markers[marker.RoomID] = byActor
	}
	if cur, ok := byActor[marker.ActorID]; ok && cur.Seq >= marker.Seq {
		return cur, nil
	}
	if marker.ReadAt.IsZero() {
		marker.ReadAt = s.now()
	}
	byActor[marker.ActorID] = marker
	return marker, nil
}

// GetReadMarker returns the marker for (roomID, actorID).
func (s *Store) GetReadMarker(_ context.Context, roomID, actorID string) (*core.ReadMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markers[roomID][actorID]
	if !ok {
		return nil, fmt.Errorf("%w: read marker %s/%s", core.ErrNotFound, roomID, actorID)
	}
	return &m, nil
}

// ListReadMarkers returns every marker in the room keyed by actor.
func (s *Store) ListReadMarkers(_ context.Context, roomID string) (map[string]core.ReadMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.ReadMarker, len(s.markers[roomID]))
	for k, v := range s.markers[roomID] {
		out[k] = v
	}
	return out, nil
}

// PutRelationship creates or replaces the (from, to, kind) relationship.
func (s *Store) PutRelationship(_ context.Context, rel core.Relationship) error {
	if rel.FromID == "" || rel.ToID == "" {
		return fmt.Errorf("%w: relationship endpoints are required", core.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rels := s.relationships[rel.FromID]
	for i, r := range rels {
		if r.ToID == rel.ToID && r.Kind == rel.Kind {
			rels[i] = rel
			return nil
		}
	}
	s.relationships[rel.FromID] = append(rels, rel)
	return nil
}

// ListRelationships returns outgoing relationships ordered by target and kind.
func (s *Store) ListRelationships(_ context.Context, fromActorID string) ([]core.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]core.Relationship(nil), s.relationships[fromActorID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ToID != out[j].ToID {
			return out[i].ToID < out[j].ToID
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
