// Package pebblestore is a durable core.Gateway backed by a Pebble key/value
// database with CBOR encoded values.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/logging"
)

// Options configures the store.
type Options struct {
	// FS overrides the filesystem (vfs.NewMem() in tests).
	FS vfs.FS
	// NoSync trades durability of the last writes for throughput.
	NoSync bool
	Logger logging.Logger
}

// Store implements core.Gateway on Pebble. Reads go straight to the
// database; read-modify-write operations are serialized by writeMu.
type Store struct {
	db     *pebble.DB
	wo     *pebble.WriteOptions
	logger logging.Logger

	writeMu sync.Mutex
	tails   map[string]roomTail // loaded lazily
	now     func() time.Time
}

var _ core.Gateway = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	popts := &pebble.Options{}
	if opts.FS != nil {
		popts.FS = opts.FS
	}
	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	wo := pebble.Sync
	if opts.NoSync {
		wo = pebble.NoSync
	}
	opts.Logger.Info("store.opened", "path", path, "sync", !opts.NoSync)
	return &Store{
		db:      db,
		wo:      wo,
		logger:  opts.Logger,
		tails:   map[string]roomTail{},
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) get(key []byte, v any) error {
	raw, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	if v == nil {
		return nil
	}
	return unmarshal(raw, v)
}

func (s *Store) getRaw(key []byte) ([]byte, error) {
	raw, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), raw...), nil
}

func (s *Store) put(key []byte, v any) error {
	b, err := marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(key, b, s.wo)
}

// scan calls fn for every value under prefix in key order until fn returns false.
func (s *Store) scan(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

// CreateRoom stores a new room.
func (s *Store) CreateRoom(_ context.Context, room core.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.get(roomKey(room.ID), nil); err == nil {
		return fmt.Errorf("%w: room %s exists", core.ErrConflict, room.ID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}
	return s.put(roomKey(room.ID), room)
}

// GetRoom loads a room.
func (s *Store) GetRoom(_ context.Context, roomID string) (*core.Room, error) {
	var r core.Room
	if err := s.get(roomKey(roomID), &r); err != nil {
		return nil, wrapNotFound(err, "room %s", roomID)
	}
	return &r, nil
}

// AddRoomMember appends actorID to the room.
func (s *Store) AddRoomMember(ctx context.Context, roomID, actorID string, joinedAt time.Time) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	r, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	if err := s.get(actorKey(actorID), nil); err != nil {
		return false, wrapNotFound(err, "actor %s", actorID)
	}
	if !r.AddMember(actorID, joinedAt) {
		return false, nil
	}
	return true, s.put(roomKey(roomID), r)
}

// PutActor writes the actor together with its handle and definition indexes
// in one batch.
func (s *Store) PutActor(_ context.Context, actor core.Actor) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if owner, err := s.getRaw(handleKey(actor.HandleKey())); err == nil && string(owner) != actor.ID {
		return fmt.Errorf("%w: handle %q is taken", core.ErrConflict, actor.Handle)
	} else if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if def := actor.DefinitionID(); def != "" {
		if owner, err := s.getRaw(defBindKey(def)); err == nil && string(owner) != actor.ID {
			return fmt.Errorf("%w: agent definition %s already has actor %s", core.ErrConflict, def, owner)
		} else if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
	}

	b := s.db.NewBatch()
	defer b.Close()

	var prev core.Actor
	switch err := s.get(actorKey(actor.ID), &prev); {
	case err == nil:
		if err := b.Delete(handleKey(prev.HandleKey()), nil); err != nil {
			return err
		}
		if def := prev.DefinitionID(); def != "" {
			if err := b.Delete(defBindKey(def), nil); err != nil {
				return err
			}
		}
		if actor.CreatedAt.IsZero() {
			actor.CreatedAt = prev.CreatedAt
		}
	case !errors.Is(err, core.ErrNotFound):
		return err
	}
	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = s.now()
	}

	val, err := marshal(actor)
	if err != nil {
		return err
	}
	if err := b.Set(actorKey(actor.ID), val, nil); err != nil {
		return err
	}
	if err := b.Set(handleKey(actor.HandleKey()), []byte(actor.ID), nil); err != nil {
		return err
	}
	if def := actor.DefinitionID(); def != "" {
		if err := b.Set(defBindKey(def), []byte(actor.ID), nil); err != nil {
			return err
		}
	}
	return b.Commit(s.wo)
}

// GetActor loads an actor.
func (s *Store) GetActor(_ context.Context, actorID string) (*core.Actor, error) {
	var a core.Actor
	if err := s.get(actorKey(actorID), &a); err != nil {
		return nil, wrapNotFound(err, "actor %s", actorID)
	}
	return &a, nil
}

// GetActorByHandle resolves a handle case-insensitively.
func (s *Store) GetActorByHandle(ctx context.Context, handle string) (*core.Actor, error) {
	id, err := s.getRaw(handleKey(core.HandleKey(handle)))
	if err != nil {
		return nil, wrapNotFound(err, "handle %q", handle)
	}
	return s.GetActor(ctx, string(id))
}

// ListActors loads the known actors among actorIDs in input order.
func (s *Store) ListActors(ctx context.Context, actorIDs []string) ([]core.Actor, error) {
	out := make([]core.Actor, 0, len(actorIDs))
	for _, id := range actorIDs {
		a, err := s.GetActor(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// PutAgentDefinition writes a definition.
func (s *Store) PutAgentDefinition(_ context.Context, def core.AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return s.put(defKey(def.ID), def)
}

// GetAgentDefinition loads a definition.
func (s *Store) GetAgentDefinition(_ context.Context, definitionID string) (*core.AgentDefinition, error) {
	var d core.AgentDefinition
	if err := s.get(defKey(definitionID), &d); err != nil {
		return nil, wrapNotFound(err, "agent definition %s", definitionID)
	}
	return &d, nil
}

// roomTail is the sequence and creation time of a room's newest message.
type roomTail struct {
	seq int64
	at  time.Time
}

// tailLocked returns the newest stored message position of the room. Caller holds writeMu.
func (s *Store) tailLocked(roomID string) (roomTail, error) {
	if t, ok := s.tails[roomID]; ok {
		return t, nil
	}
	prefix := messagePrefix(roomID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return roomTail{}, err
	}
	defer iter.Close()
	var t roomTail
	if iter.Last() {
		var m core.Message
		if err := unmarshal(iter.Value(), &m); err != nil {
			return roomTail{}, err
		}
		t = roomTail{seq: m.Seq, at: m.CreatedAt}
	}
	if err := iter.Error(); err != nil {
		return roomTail{}, err
	}
	s.tails[roomID] = t
	return t, nil
}

// AppendMessage assigns the next sequence and writes the message and its id
// index atomically.
func (s *Store) AppendMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	if err := msg.Validate(); err != nil {
		return core.Message{}, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.GetRoom(ctx, msg.RoomID); err != nil {
		return core.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if _, err := s.getRaw(messageIDKey(msg.RoomID, msg.ID)); err == nil {
		return core.Message{}, fmt.Errorf("%w: message %s exists", core.ErrConflict, msg.ID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Message{}, err
	}
	tail, err := s.tailLocked(msg.RoomID)
	if err != nil {
		return core.Message{}, err
	}
	msg.Seq = tail.seq + 1
	msg.CreatedAt = core.NextCreatedAt(msg.CreatedAt, s.now(), tail.at)
	val, err := marshal(msg)
	if err != nil {
		return core.Message{}, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(messageKey(msg.RoomID, msg.Seq), val, nil); err != nil {
		return core.Message{}, err
	}
	if err := b.Set(messageIDKey(msg.RoomID, msg.ID), formatSeq(msg.Seq), nil); err != nil {
		return core.Message{}, err
	}
	if err := b.Commit(s.wo); err != nil {
		return core.Message{}, err
	}
	s.tails[msg.RoomID] = roomTail{seq: msg.Seq, at: msg.CreatedAt}
	return msg, nil
}

// GetMessage loads a message through the id index.
func (s *Store) GetMessage(_ context.Context, roomID, messageID string) (*core.Message, error) {
	raw, err := s.getRaw(messageIDKey(roomID, messageID))
	if err != nil {
		return nil, wrapNotFound(err, "message %s", messageID)
	}
	seq, err := parseSeq(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt message index for %s: %w", messageID, err)
	}
	var m core.Message
	if err := s.get(messageKey(roomID, seq), &m); err != nil {
		return nil, wrapNotFound(err, "message %s", messageID)
	}
	return &m, nil
}

// ListMessages returns messages with Seq > afterSeq in order.
func (s *Store) ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]core.Message, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	prefix := messagePrefix(roomID)
	lower := messageKey(roomID, afterSeq+1)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []core.Message{}
	for iter.First(); iter.Valid(); iter.Next() {
		var m core.Message
		if err := unmarshal(iter.Value(), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// RecentMessages walks the room's messages backwards from the newest.
func (s *Store) RecentMessages(ctx context.Context, roomID string, n int) ([]core.Message, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []core.Message{}, nil
	}
	prefix := messagePrefix(roomID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := make([]core.Message, 0, n)
	for iter.Last(); iter.Valid() && len(out) < n; iter.Prev() {
		var m core.Message
		if err := unmarshal(iter.Value(), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AdvanceReadMarker moves the marker forward only.
func (s *Store) AdvanceReadMarker(ctx context.Context, marker core.ReadMarker) (core.ReadMarker, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.GetRoom(ctx, marker.RoomID); err != nil {
		return core.ReadMarker{}, err
	}
	var cur core.ReadMarker
	switch err := s.get(markerKey(marker.RoomID, marker.ActorID), &cur); {
	case err == nil:
		if cur.Seq >= marker.Seq {
			return cur, nil
		}
	case !errors.Is(err, core.ErrNotFound):
		return core.ReadMarker{}, err
	}
	if marker.ReadAt.IsZero() {
		marker.ReadAt = s.now()
	}
	return marker, s.put(markerKey(marker.RoomID, marker.ActorID), marker)
}

// GetReadMarker loads one marker.
func (s *Store) GetReadMarker(_ context.Context, roomID, actorID string) (*core.ReadMarker, error) {
	var m core.ReadMarker
	if err := s.get(markerKey(roomID, actorID), &m); err != nil {
		return nil, wrapNotFound(err, "read marker %s/%s", roomID, actorID)
	}
	return &m, nil
}

// ListReadMarkers returns all markers of the room keyed by actor.
func (s *Store) ListReadMarkers(_ context.Context, roomID string) (map[string]core.ReadMarker, error) {
	out := map[string]core.ReadMarker{}
	err := s.scan(markerPrefix(roomID), func(_, value []byte) (bool, error) {
		var m core.ReadMarker
		if err := unmarshal(value, &m); err != nil {
			return false, err
		}
		out[m.ActorID] = m
		return true, nil
	})
	return out, err
}

// PutRelationship creates or replaces the (from, to, kind) relationship.
func (s *Store) PutRelationship(_ context.Context, rel core.Relationship) error {
	if rel.FromID == "" || rel.ToID == "" {
		return fmt.Errorf("%w: relationship endpoints are required", core.ErrInvalid)
	}
	return s.put(relKey(rel.FromID, rel.ToID, rel.Kind), rel)
}

// ListRelationships returns outgoing relationships ordered by target and kind.
func (s *Store) ListRelationships(_ context.Context, fromActorID string) ([]core.Relationship, error) {
	var out []core.Relationship
	err := s.scan(relPrefix(fromActorID), func(_, value []byte) (bool, error) {
		var r core.Relationship
		if err := unmarshal(value, &r); err != nil {
			return false, err
		}
		out = append(out, r)
		return true, nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ToID != out[j].ToID {
			return out[i].ToID < out[j].ToID
		}
		return out[i].Kind < out[j].Kind
	})
	return out, err
}

func wrapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
