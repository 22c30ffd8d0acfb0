package server

import (
	"context"
	"errors"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/orchestrator"
	"github.com/hupe1980/agentroom/router"
)

// dispatch routes a persisted user message and starts a turn per selected
// agent. Routing failures yield no turns.
func (s *Server) dispatch(ctx context.Context, msg core.Message, connID string) {
	logger := s.opts.Logger
	if s.deps.Memory != nil {
		if err := s.deps.Memory.Remember(ctx, msg); err != nil {
			logger.Warn("memory.remember.error", "room", msg.RoomID, "message", msg.ID, "error", err)
		}
	}
	if s.deps.Router == nil || s.deps.Orchestrator == nil || msg.AuthorKind == core.ActorAgent {
		return
	}

	req, err := s.routingRequest(ctx, msg)
	if err != nil {
		logger.Warn("route.load.error", "room", msg.RoomID, "message", msg.ID, "error", err)
		return
	}
	selections := s.deps.Router.Route(ctx, req)
	if len(selections) == 0 {
		logger.Debug("route.none", "room", msg.RoomID, "message", msg.ID)
		return
	}

	sink := &roomSink{server: s, roomID: msg.RoomID}
	for _, sel := range selections {
		turn, err := s.deps.Orchestrator.Start(ctx, orchestrator.TurnRequest{
			RoomID:       msg.RoomID,
			AgentID:      sel.ActorID,
			Trigger:      msg,
			ConnectionID: connID,
			Sink:         sink,
		})
		switch {
		case err == nil:
			logger.Info("route.dispatch", "room", msg.RoomID, "message", msg.ID, "agent", sel.ActorID, "rule", sel.Rule, "turn", turn.ID())
		case errors.Is(err, orchestrator.ErrTurnInFlight), errors.Is(err, orchestrator.ErrAlreadyDispatched):
			logger.Debug("route.skip", "room", msg.RoomID, "message", msg.ID, "agent", sel.ActorID, "reason", err)
		default:
			logger.Warn("route.dispatch.error", "room", msg.RoomID, "message", msg.ID, "agent", sel.ActorID, "error", err)
		}
	}
}

func (s *Server) routingRequest(ctx context.Context, msg core.Message) (router.Request, error) {
	gw := s.deps.Gateway
	room, err := gw.GetRoom(ctx, msg.RoomID)
	if err != nil {
		return router.Request{}, err
	}
	actors, err := gw.ListActors(ctx, room.MemberIDs())
	if err != nil {
		return router.Request{}, err
	}
	req := router.Request{Message: msg}
	for _, a := range actors {
		if !a.IsAgent() {
			continue
		}
		m, _ := room.Member(a.ID)
		cand := router.Candidate{Actor: a, JoinedAt: m.JoinedAt}
		if defID := a.DefinitionID(); defID != "" {
			def, err := gw.GetAgentDefinition(ctx, defID)
			switch {
			case err == nil:
				cand.Definition = def
			case !errors.Is(err, core.ErrNotFound):
				return router.Request{}, err
			}
		}
		req.Candidates = append(req.Candidates, cand)
	}
	if len(req.Candidates) == 0 {
		return req, nil
	}
	if req.Relationships, err = gw.ListRelationships(ctx, msg.AuthorID); err != nil {
		return router.Request{}, err
	}
	return req, nil
}

// roomSink forwards turn events to the connections of one room.
type roomSink struct {
	server *Server
	roomID string
}

func (rs *roomSink) Emit(ev orchestrator.Event) {
	s := rs.server
	payload := TurnPayload{TurnInfo: ev.Turn, Seq: ev.Seq, Delta: ev.Delta, Run: ev.Run, Message: ev.Message}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	}
	frame, err := encodeNotification(string(ev.Type), payload)
	if err != nil {
		s.opts.Logger.Error("rpc.encode.error", "method", ev.Type, "error", err)
		return
	}
	send := func(*Conn) []byte { return frame }
	if ev.Message != nil {
		// Persisted replies keep their place in the room order.
		s.hub.sequenced(rs.roomID, ev.Message.Seq, send)
		return
	}
	s.hub.broadcast(rs.roomID, send)
}
