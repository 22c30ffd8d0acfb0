package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/orchestrator"
)

// Error codes carried in RPCError.Code.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeForbidden      = 4003
	CodeNotFound       = 4004
	CodeRateLimited    = 4290
	CodePersistence    = 5000
)

// Inbound methods.
const (
	MethodRoomJoin       = "room.join"
	MethodRoomLeave      = "room.leave"
	MethodMessageCreate  = "message.create"
	MethodRoomUnread     = "room.unread"
	MethodRoomRead       = "room.read"
	MethodMessageHistory = "message.history"
	MethodTurnCancel     = "turn.cancel"
)

// Outbound notifications. Turn notifications reuse the orchestrator event
// names.
const (
	NotifyParticipants    = "room.participants"
	NotifyUnread          = "room.unread"
	NotifyMessageReceived = "message.received"
)

// Request is an inbound frame. Frames without an id are notifications and
// never get a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// HasID reports whether the frame expects a response.
func (r Request) HasID() bool {
	return len(r.ID) > 0 && !bytes.Equal(r.ID, []byte("null"))
}

// Response answers a request with an id.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is an outbound frame without an id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCError is a protocol level error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newRPCError(code int, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// toRPCError maps handler errors onto protocol codes. Anything unrecognised
// is reported as a persistence failure.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, core.ErrNotFound):
		return &RPCError{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, core.ErrInvalid):
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &RPCError{Code: CodePersistence, Message: err.Error()}
	}
}

func codeLabel(code int) string { return strconv.Itoa(code) }

func encodeResponse(id json.RawMessage, result any, rpcErr *RPCError) ([]byte, error) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return json.Marshal(Response{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
}

func encodeNotification(method string, params any) ([]byte, error) {
	return json.Marshal(Notification{JSONRPC: "2.0", Method: method, Params: params})
}

type roomParams struct {
	RoomID string `json:"roomId"`
}

type messageInput struct {
	ID    string             `json:"id,omitempty"`
	Text  string             `json:"text,omitempty"`
	Parts []core.MessagePart `json:"parts,omitempty"`
}

type createParams struct {
	RoomID  string       `json:"roomId"`
	Message messageInput `json:"message"`
}

type readParams struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

type historyParams struct {
	RoomID   string `json:"roomId"`
	AfterSeq int64  `json:"afterSeq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type cancelParams struct {
	RoomID  string `json:"roomId"`
	TurnID  string `json:"turnId,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

// Participant is one room member as shown to clients.
type Participant struct {
	ID          string         `json:"id"`
	Kind        core.ActorKind `json:"kind"`
	Handle      string         `json:"handle"`
	DisplayName string         `json:"displayName"`
	JoinedAt    time.Time      `json:"joinedAt"`
	Online      bool           `json:"online"`
}

// ParticipantsPayload is the room.participants notification and the
// room.join result.
type ParticipantsPayload struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

// UnreadPayload is the room.unread notification and result.
type UnreadPayload struct {
	RoomID string         `json:"roomId"`
	Counts map[string]int `json:"counts"`
}

// MessagePayload is the message.received notification.
type MessagePayload struct {
	RoomID  string       `json:"roomId"`
	Message core.Message `json:"message"`
	Self    bool         `json:"self"`
}

// ReadResult answers room.read.
type ReadResult struct {
	RoomID string          `json:"roomId"`
	Marker core.ReadMarker `json:"marker"`
	Unread int             `json:"unread"`
}

// HistoryResult answers message.history.
type HistoryResult struct {
	RoomID   string         `json:"roomId"`
	Messages []core.Message `json:"messages"`
}

// CancelResult answers turn.cancel.
type CancelResult struct {
	RoomID    string `json:"roomId"`
	Cancelled int    `json:"cancelled"`
}

// LeaveResult answers room.leave.
type LeaveResult struct {
	RoomID string `json:"roomId"`
	Left   bool   `json:"left"`
}

// TurnPayload carries every turn notification.
type TurnPayload struct {
	orchestrator.TurnInfo
	Seq     int           `json:"seq,omitempty"`
	Delta   string        `json:"delta,omitempty"`
	Run     *core.ToolRun `json:"run,omitempty"`
	Message *core.Message `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
}
