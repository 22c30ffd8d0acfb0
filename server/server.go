// Package server is the WebSocket room session server. Clients exchange
// JSON-RPC shaped frames over /ws: requests carry an id and get a correlated
// response, everything else is a notification. The server persists and fans
// out room messages, routes them to agents and forwards agent turn events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/logging"
	"github.com/hupe1980/agentroom/metrics"
	"github.com/hupe1980/agentroom/orchestrator"
	"github.com/hupe1980/agentroom/router"
	"golang.org/x/time/rate"
)

// JoinPolicy decides whether actor may join room it is not yet a member of.
type JoinPolicy func(actor core.Actor, room core.Room) bool

// DefaultJoinPolicy lets users join any existing room. Agents only join
// rooms they already belong to.
func DefaultJoinPolicy(actor core.Actor, _ core.Room) bool {
	return actor.Kind == core.ActorUser
}

// Rememberer writes user messages to long-term memory.
type Rememberer interface {
	Remember(ctx context.Context, msg core.Message) error
}

// Dependencies are the collaborators of a Server. Router, Orchestrator and
// Memory may be nil; without a router or orchestrator no agent replies.
type Dependencies struct {
	Gateway      core.Gateway
	Router       *router.Router
	Orchestrator *orchestrator.Orchestrator
	Memory       Rememberer
}

// Options configure a Server.
type Options struct {
	// IdentityHeader carries the caller's actor id; the "actor" query
	// parameter is the fallback.
	IdentityHeader string
	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string
	// EchoToSender delivers message.received to the sending connection too.
	EchoToSender bool
	// CancelOnDisconnect cancels the caller's turns when its last connection
	// to a room closes.
	CancelOnDisconnect bool
	JoinPolicy         JoinPolicy

	// ReorderWindow bounds how long an out-of-order message is held back.
	ReorderWindow  time.Duration
	SendBuffer     int
	RateLimit      float64
	RateBurst      int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	RequestTimeout time.Duration
	HistoryLimit   int

	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		IdentityHeader:     "X-Actor-ID",
		EchoToSender:       true,
		CancelOnDisconnect: true,
		JoinPolicy:         DefaultJoinPolicy,
		ReorderWindow:      50 * time.Millisecond,
		SendBuffer:         256,
		RateLimit:          5,
		RateBurst:          10,
		WriteWait:          10 * time.Second,
		PongWait:           60 * time.Second,
		PingPeriod:         54 * time.Second,
		MaxMessageSize:     64 << 10,
		RequestTimeout:     10 * time.Second,
		HistoryLimit:       100,
		Logger:             logging.NoOpLogger{},
	}
}

// Server serves the room protocol.
type Server struct {
	deps     Dependencies
	opts     Options
	hub      *Hub
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
	mux      *http.ServeMux

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	closing bool
}

// New creates a Server.
func New(deps Dependencies, optFns ...func(o *Options)) (*Server, error) {
	if deps.Gateway == nil {
		return nil, errors.New("server: gateway is required")
	}
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.JoinPolicy == nil {
		opts.JoinPolicy = DefaultJoinPolicy
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:       deps,
		opts:       opts,
		hub:        NewHub(opts.ReorderWindow),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.handlers = map[string]handlerFunc{
		MethodRoomJoin:       s.handleJoin,
		MethodRoomLeave:      s.handleLeave,
		MethodMessageCreate:  s.handleCreate,
		MethodRoomUnread:     s.handleUnread,
		MethodRoomRead:       s.handleRead,
		MethodMessageHistory: s.handleHistory,
		MethodTurnCancel:     s.handleCancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealth)
	mux.Handle("/metrics", opts.Metrics.Handler())
	s.mux = mux
	return s, nil
}

// Hub exposes the connection registry.
func (s *Server) Hub() *Hub { return s.hub }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, a := range s.opts.AllowedOrigins {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if closing {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "shutting_down"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "connections": s.hub.Len()})
}

func (s *Server) identity(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(s.opts.IdentityHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("actor"))
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	actorID := s.identity(r)
	if actorID == "" {
		http.Error(w, "missing caller identity", http.StatusUnauthorized)
		return
	}
	actor, err := s.deps.Gateway.GetActor(r.Context(), actorID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "unknown actor", http.StatusForbidden)
			return
		}
		s.opts.Logger.Error("ws.identity.error", "actor", actorID, "error", err)
		http.Error(w, "identity lookup failed", http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("ws.upgrade.error", "error", err)
		return
	}

	limit := rate.Limit(s.opts.RateLimit)
	if s.opts.RateLimit <= 0 {
		limit = rate.Inf
	}
	c := &Conn{
		id:      core.NewID(),
		actor:   *actor,
		ws:      ws,
		send:    make(chan []byte, s.opts.SendBuffer),
		limiter: rate.NewLimiter(limit, s.opts.RateBurst),
		rooms:   map[string]struct{}{},
		onDrop:  s.opts.Metrics.SlowConsumerDropped,
	}
	c.logger = logging.With(s.opts.Logger, "conn", c.id, "actor", actor.ID)

	s.mu.Lock()
	if s.closing || !s.hub.register(c) {
		s.mu.Unlock()
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = ws.Close()
		return
	}
	s.wg.Add(2)
	s.mu.Unlock()

	s.opts.Metrics.ConnectionOpened()
	c.logger.Info("ws.connected")

	// The request context ends when this handler returns, so the pumps run
	// on their own.
	go func() {
		defer s.wg.Done()
		s.writePump(c)
	}()
	go func() {
		defer s.wg.Done()
		s.readPump(c)
	}()
}

// disconnect drops the live mappings of c and, when configured, cancels the
// caller's turns in rooms where it has no other connection.
func (s *Server) disconnect(c *Conn) {
	rooms := s.hub.unregister(c)
	for _, roomID := range rooms {
		s.opts.Metrics.RoomLeft()
		if !s.opts.CancelOnDisconnect || s.deps.Orchestrator == nil {
			continue
		}
		if s.hub.online(roomID)[c.actor.ID] {
			continue
		}
		if n := s.deps.Orchestrator.CancelCaller(roomID, c.actor.ID); n > 0 {
			c.logger.Info("turn.cancel.disconnect", "room", roomID, "turns", n)
		}
	}
	s.opts.Metrics.ConnectionClosed()
	c.logger.Info("ws.disconnected")
}

// goTracked runs fn on a goroutine that Shutdown waits for.
func (s *Server) goTracked(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.baseCtx)
	}()
	return true
}

// Shutdown closes every connection and waits for the connection pumps and
// routing goroutines. Running turns are left to the orchestrator.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.baseCancel()
	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server shutdown: %w", ctx.Err())
	}
}
