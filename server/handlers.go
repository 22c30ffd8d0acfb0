package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentroom/core"
)

type handlerFunc func(call *call) (any, error)

// call is one inbound request being handled. Work registered with then runs
// after the response has been queued.
type call struct {
	ctx    context.Context
	conn   *Conn
	params json.RawMessage
	after  []func()
}

func (c *call) then(fn func()) { c.after = append(c.after, fn) }

func (c *call) decode(v any) error {
	if len(c.params) == 0 {
		return newRPCError(CodeInvalidParams, "params are required")
	}
	if err := json.Unmarshal(c.params, v); err != nil {
		return newRPCError(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

func (s *Server) handleFrame(c *Conn, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(c, nil, nil, newRPCError(CodeParseError, "parse error: %v", err))
		return
	}
	if req.Method == "" {
		s.reply(c, req.ID, nil, newRPCError(CodeInvalidRequest, "method is required"))
		return
	}
	if !c.limiter.Allow() {
		s.opts.Metrics.RateLimited()
		if req.HasID() {
			s.reply(c, req.ID, nil, newRPCError(CodeRateLimited, "rate limit exceeded"))
		}
		return
	}
	h, ok := s.handlers[req.Method]
	if !ok {
		if req.HasID() {
			s.reply(c, req.ID, nil, newRPCError(CodeMethodNotFound, "method %q not found", req.Method))
		}
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.RequestTimeout)
	defer cancel()
	cl := &call{ctx: ctx, conn: c, params: req.Params}
	result, err := h(cl)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == CodePersistence {
			c.logger.Error("rpc.error", "method", req.Method, "error", err)
		} else {
			c.logger.Debug("rpc.error", "method", req.Method, "code", rpcErr.Code, "error", err)
		}
		if req.HasID() {
			s.reply(c, req.ID, nil, rpcErr)
		} else {
			s.opts.Metrics.RPCError(codeLabel(rpcErr.Code))
		}
		return
	}
	if req.HasID() {
		s.reply(c, req.ID, result, nil)
	}
	for _, fn := range cl.after {
		fn()
	}
}

func (s *Server) reply(c *Conn, id json.RawMessage, result any, rpcErr *RPCError) {
	if rpcErr != nil {
		s.opts.Metrics.RPCError(codeLabel(rpcErr.Code))
	}
	frame, err := encodeResponse(id, result, rpcErr)
	if err != nil {
		c.logger.Error("rpc.encode.error", "error", err)
		return
	}
	c.enqueue(frame)
}

func (s *Server) notify(c *Conn, method string, params any) {
	frame, err := encodeNotification(method, params)
	if err != nil {
		c.logger.Error("rpc.encode.error", "method", method, "error", err)
		return
	}
	c.enqueue(frame)
}

func (s *Server) broadcast(roomID, method string, params any) {
	frame, err := encodeNotification(method, params)
	if err != nil {
		s.opts.Logger.Error("rpc.encode.error", "method", method, "error", err)
		return
	}
	s.hub.broadcast(roomID, func(*Conn) []byte { return frame })
}

func requireRoom(roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return newRPCError(CodeInvalidParams, "roomId is required")
	}
	return nil
}

func requireJoined(c *Conn, roomID string) error {
	if err := requireRoom(roomID); err != nil {
		return err
	}
	if !c.inRoom(roomID) {
		return newRPCError(CodeForbidden, "join room %s first", roomID)
	}
	return nil
}

func (s *Server) handleJoin(cl *call) (any, error) {
	var p roomParams
	if err := cl.decode(&p); err != nil {
		return nil, err
	}
	if err := requireRoom(p.RoomID); err != nil {
		return nil, err
	}
	gw := s.deps.Gateway
	room, err := gw.GetRoom(cl.ctx, p.RoomID)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}

	actor := cl.conn.actor
	changed := false
	if !room.HasMember(actor.ID) {
		if !s.opts.JoinPolicy(actor, *room) {
			return nil, newRPCError(CodeForbidden, "actor %s may not join room %s", actor.ID, room.ID)
		}
		if changed, err = gw.AddRoomMember(cl.ctx, room.ID, actor.ID, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("add room member: %w", err)
		}
		if room, err = gw.GetRoom(cl.ctx, p.RoomID); err != nil {
			return nil, fmt.Errorf("reload room: %w", err)
		}
	}

	unread, err := s.unreadCounts(cl.ctx, room)
	if err != nil {
		return nil, err
	}

	// Register before reading the tail: a message persisted after the read
	// then reaches this connection through the sequencer.
	joined := s.hub.join(cl.conn, room.ID)
	recent, err := gw.RecentMessages(cl.ctx, room.ID, 1)
	if err != nil {
		if joined {
			s.hub.leave(cl.conn, room.ID)
		}
		return nil, fmt.Errorf("load last message: %w", err)
	}
	var lastSeq int64
	if len(recent) > 0 {
		lastSeq = recent[0].Seq
	}
	s.hub.seed(room.ID, lastSeq)
	if joined {
		s.opts.Metrics.RoomJoined()
	}
	participants, err := s.participants(cl.ctx, room)
	if err != nil {
		return nil, err
	}
	cl.conn.logger.Info("room.join", "room", room.ID, "membership_changed", changed)

	cl.then(func() {
		if changed {
			s.broadcast(room.ID, NotifyParticipants, participants)
		} else {
			s.notify(cl.conn, NotifyParticipants, participants)
		}
		s.notify(cl.conn, NotifyUnread, unread)
	})
	return participants, nil
}

func (s *Server) participants(ctx context.Context, room *core.Room) (ParticipantsPayload, error) {
	ids := room.MemberIDs()
	actors, err := s.deps.Gateway.ListActors(ctx, ids)
	if err != nil {
		return ParticipantsPayload{}, fmt.Errorf("list participants: %w", err)
	}
	byID := make(map[string]core.Actor, len(actors))
	for _, a := range actors {
		byID[a.ID] = a
	}
	online := s.hub.online(room.ID)
	out := ParticipantsPayload{RoomID: room.ID, Participants: make([]Participant, 0, len(room.Members))}
	for _, m := range room.Members {
		a, ok := byID[m.ActorID]
		if !ok {
			continue
		}
		out.Participants = append(out.Participants, Participant{
			ID:          a.ID,
			Kind:        a.Kind,
			Handle:      a.Handle,
			DisplayName: a.Name(),
			JoinedAt:    m.JoinedAt,
			Online:      online[a.ID],
		})
	}
	return out, nil
}

func (s *Server) unreadCounts(ctx context.Context, room *core.Room) (UnreadPayload, error) {
	members := room.MemberIDs()
	markers, err := s.deps.Gateway.ListReadMarkers(ctx, room.ID)
	if err != nil {
		return UnreadPayload{}, fmt.Errorf("list read markers: %w", err)
	}
	msgs, err := s.deps.Gateway.ListMessages(ctx, room.ID, core.LowestMarkerSeq(members, markers), 0)
	if err != nil {
		return UnreadPayload{}, fmt.Errorf("list messages: %w", err)
	}
	return UnreadPayload{RoomID: room.ID, Counts: core.UnreadCounts(members, markers, msgs)}, nil
}

func (s *Server) handleLeave(cl *call) (any, error) {
	var p roomParams
	if err := cl.decode(&p); err != nil {
		return nil, err
	}
	if err := requireRoom(p.RoomID); err != nil {
		return nil, err
	}
	left := s.hub.leave(cl.conn, p.RoomID)
	if left {
		s.opts.Metrics.RoomLeft()
		cl.conn.logger.Info("room.leave", "room", p.RoomID)
	}
	return LeaveResult{RoomID: p.RoomID, Left: left}, nil
}

func messageParts(in messageInput) []core.MessagePart {
	if len(in.Parts) == 0 {
		if strings.TrimSpace(in.Text) == "" {
			return nil
		}
		return core.TextParts(in.Text)
	}
	parts := make([]core.MessagePart, 0, len(in.Parts))
	for _, p := range in.Parts {
		if p.Type == "" {
			p.Type = core.PartTypeText
		}
		if p.Type != core.PartTypeText {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

func (s *Server) handleCreate(cl *call) (any, error) {
	var p createParams
	if err := cl.decode(&p); err != nil {
		return nil, err
	}
	if err := requireJoined(cl.conn, p.RoomID); err != nil {
		return nil, err
	}
	parts := messageParts(p.Message)
	if strings.TrimSpace(core.Message{Parts: parts}.Text()) == "" {
		return nil, newRPCError(CodeInvalidParams, "message content is empty")
	}

	gw := s.deps.Gateway
	if p.Message.ID != "" {
		if existing, err := gw.GetMessage(cl.ctx, p.RoomID, p.Message.ID); err == nil {
			return existing, nil
		} else if !errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("look up message: %w", err)
		}
	}

	actor := cl.conn.actor
	role := core.RoleUser
	if actor.IsAgent() {
		role = core.RoleAssistant
	}
	msg := core.Message{
		ID:         p.Message.ID,
		RoomID:     p.RoomID,
		AuthorID:   actor.ID,
		AuthorKind: actor.Kind,
		Role:       role,
		Parts:      parts,
	}
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	stored, err := gw.AppendMessage(cl.ctx, msg)
	if errors.Is(err, core.ErrConflict) && p.Message.ID != "" {
		// Lost a race with a retry of the same message.
		existing, gerr := gw.GetMessage(cl.ctx, p.RoomID, p.Message.ID)
		if gerr == nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	s.opts.Metrics.MessagePersisted(string(stored.AuthorKind))

	cl.then(func() {
		s.publishMessage(stored, cl.conn.id)
		s.goTracked(func(ctx context.Context) { s.dispatch(ctx, stored, cl.conn.id) })
	})
	return stored, nil
}

// publishMessage fans out message.received in sequence order. Connections of
// the author see self=true.
func (s *Server) publishMessage(msg core.Message, senderConnID string) {
	self, err := encodeNotification(NotifyMessageReceived, MessagePayload{RoomID: msg.RoomID, Message: msg, Self: true})
	if err != nil {
		s.opts.Logger.Error("rpc.encode.error", "method", NotifyMessageReceived, "error", err)
		return
	}
	other, err := encodeNotification(NotifyMessageReceived, MessagePayload{RoomID: msg.RoomID, Message: msg})
	if err != nil {
		s.opts.Logger.Error("rpc.encode.error", "method", NotifyMessageReceived, "error", err)
		return
	}
	s.hub.sequenced(msg.RoomID, msg.Seq, func(c *Conn) []byte {
		if c.id == senderConnID && !s.opts.EchoToSender {
			return nil
		}
		if c.actor.ID == msg.AuthorID {
			return self
		}
		return other
	})
}

func (s *Server) handleUnread(cl *call) (any, error) {
	var p roomParams
	if err := cl.decode(&p); err != nil {
		return nil, err
	}
	if err := requireJoined(cl.conn, p.RoomID); err != nil {
		return nil, err
	}
	room, err := s.deps.Gateway.GetRoom(cl.ctx, p.RoomID)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	return s.unreadCounts(cl.ctx, room)
}

func (s *Server) handleRead(cl *call) (any, error) {
	var p readParams
	if err := cl.decode(&p); err != nil {
		return nil, err
	}
	if err := requireJoined(cl.conn, p.RoomID); err != nil {
		return nil, err
	}
	if p.MessageID == "" {
		return nil, newRPCError(CodeInvalidParams, "messageId is required")
	}
	gw := s.deps.Gateway
	msg, err := gw.GetMessage(cl.ctx, p.RoomID, p.MessageID)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	actorID := cl.conn.actor.ID
	marker, err := gw.AdvanceReadMarker(cl.ctx, core.ReadMarker{
		RoomID:    p.RoomID,
		ActorID:   actorID,
		MessageID: msg.ID,
		Seq:       msg.Seq,
		ReadAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("advance read marker: %w", err)
	}
	after, err := gw.ListMessages(cl.ctx, p.RoomID, marker.Seq, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return ReadResult{RoomID: p.RoomID, Marker: marker, Unread: core.CountUnread(actorID, &marker, after)}, nil
}

func (s *Server) handleHistory(cl *call) (any, error) {
	var p historyParams
	if err := cl.decode(&p); err != nil {
		return nil, err
	}
	if err := requireJoined(cl.conn, p.RoomID); err != nil {
		return nil, err
	}
	if p.AfterSeq < 0 || p.Limit < 0 {
		return nil, newRPCError(CodeInvalidParams, "afterSeq and limit must not be negative")
	}
	limit := p.Limit
	if limit == 0 || limit > s.opts.HistoryLimit {
		limit = s.opts.HistoryLimit
	}
	msgs, err := s.deps.Gateway.ListMessages(cl.ctx, p.RoomID, p.AfterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	return HistoryResult{RoomID: p.RoomID, Messages: msgs}, nil
}

func (s *Server) handleCancel(cl *call) (any, error) {
	var p cancelParams
	if err := cl.decode(&p); err != nil {
		return nil, err
	}
	if err := requireJoined(cl.conn, p.RoomID); err != nil {
		return nil, err
	}
	res := CancelResult{RoomID: p.RoomID}
	orch := s.deps.Orchestrator
	if orch == nil {
		return res, nil
	}
	switch {
	case p.TurnID != "":
		if orch.CancelTurn(p.RoomID, p.TurnID) {
			res.Cancelled = 1
		}
	case p.AgentID != "":
		res.Cancelled = orch.CancelAgent(p.RoomID, p.AgentID)
	default:
		res.Cancelled = orch.CancelRoom(p.RoomID)
	}
	cl.conn.logger.Info("turn.cancel", "room", p.RoomID, "turn", p.TurnID, "agent", p.AgentID, "cancelled", res.Cancelled)
	return res, nil
}
