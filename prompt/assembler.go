package prompt

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/internal/util"
	"github.com/hupe1980/agentroom/logging"
	"github.com/hupe1980/agentroom/memory"
)

// DefaultPreamble addresses the user by name and declares the connection.
const DefaultPreamble = `You are {{.AgentName}}, a participant in the chat room "{{default .RoomID .RoomTitle}}". ` +
	`You are talking with {{default "a user" .UserName}}. Connection: {{default "none" .ConnectionID}}.`

// WindowSource provides the short-term window.
type WindowSource interface {
	RecentMessages(ctx context.Context, roomID string, n int) ([]core.Message, error)
}

// Recaller provides long-term memory notes.
type Recaller interface {
	Recall(ctx context.Context, roomID, query string, topK int) ([]memory.Note, error)
}

// Options configure an Assembler.
type Options struct {
	// Preamble is a text/template rendered with PreambleData.
	Preamble string
	// WindowSize is the number of recent messages included (excluding the trigger).
	WindowSize int
	// LongTermTopK bounds the recalled notes; 0 disables long-term memory.
	LongTermTopK int
	Logger       logging.Logger
}

// PreambleData is the preamble template input.
type PreambleData struct {
	AgentName    string
	UserName     string
	RoomID       string
	RoomTitle    string
	ConnectionID string
}

// Input identifies one turn.
type Input struct {
	Room         core.Room
	Agent        core.Actor
	Definition   *core.AgentDefinition
	User         *core.Actor
	ConnectionID string
	Trigger      core.Message
}

// Assembler builds model context. It holds no per-turn state and is safe for
// concurrent use.
type Assembler struct {
	window   WindowSource
	recaller Recaller
	preamble *template.Template
	opts     Options
}

// New creates an Assembler. recaller may be nil.
func New(window WindowSource, recaller Recaller, optFns ...func(o *Options)) (*Assembler, error) {
	opts := Options{
		Preamble:     DefaultPreamble,
		WindowSize:   20,
		LongTermTopK: 5,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	tmpl, err := util.ParseTemplate("preamble", opts.Preamble)
	if err != nil {
		return nil, fmt.Errorf("parse preamble template: %w", err)
	}
	return &Assembler{window: window, recaller: recaller, preamble: tmpl, opts: opts}, nil
}

// Assemble returns the system entry, the short-term window in chronological
// order and the trigger last. Only a failing window source is an error;
// missing definitions, profiles or memories shrink the context instead.
func (a *Assembler) Assemble(ctx context.Context, in Input) ([]core.Content, error) {
	window, err := a.shortTerm(ctx, in)
	if err != nil {
		return nil, err
	}

	skip := map[string]bool{in.Trigger.ID: true}
	for _, m := range window {
		skip[m.ID] = true
	}

	contents := make([]core.Content, 0, len(window)+2)
	contents = append(contents, core.NewTextContent(string(core.RoleSystem), a.systemText(ctx, in, skip)))
	for _, m := range window {
		contents = append(contents, m.ToContent())
	}
	return append(contents, in.Trigger.ToContent()), nil
}

func (a *Assembler) shortTerm(ctx context.Context, in Input) ([]core.Message, error) {
	if a.opts.WindowSize <= 0 {
		return nil, nil
	}
	roomID := in.Trigger.RoomID
	if roomID == "" {
		roomID = in.Room.ID
	}
	recent, err := a.window.RecentMessages(ctx, roomID, a.opts.WindowSize+1)
	if err != nil {
		return nil, fmt.Errorf("load short-term window: %w", err)
	}
	out := make([]core.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID == in.Trigger.ID {
			continue
		}
		if in.Trigger.Seq > 0 && m.Seq > in.Trigger.Seq {
			continue
		}
		out = append(out, m)
	}
	if len(out) > a.opts.WindowSize {
		out = out[len(out)-a.opts.WindowSize:]
	}
	return out, nil
}

func (a *Assembler) systemText(ctx context.Context, in Input, skip map[string]bool) string {
	var sections []string

	data := PreambleData{
		AgentName:    in.Agent.Name(),
		RoomID:       in.Room.ID,
		RoomTitle:    in.Room.Title,
		ConnectionID: in.ConnectionID,
	}
	if in.User != nil {
		data.UserName = in.User.Name()
		if n := strings.TrimSpace(in.User.Profile().Name); n != "" {
			data.UserName = n
		}
	}
	if text, err := util.Execute(a.preamble, data); err != nil {
		a.opts.Logger.Warn("prompt.preamble.render_failed", "agent_id", in.Agent.ID, "error", err.Error())
	} else if text = strings.TrimSpace(text); text != "" {
		sections = append(sections, text)
	}

	if in.Definition != nil {
		if p := ParsePersona(in.Definition.Instructions).Render(); p != "" {
			sections = append(sections, p)
		}
	}

	if in.User != nil {
		if block := ProfileBlock(in.User.Profile()); block != "" {
			sections = append(sections, block)
		}
	}

	if block := LongTermBlock(a.recall(ctx, in, skip)); block != "" {
		sections = append(sections, block)
	}

	return strings.Join(sections, "\n\n")
}

func (a *Assembler) recall(ctx context.Context, in Input, skip map[string]bool) []memory.Note {
	if a.recaller == nil || a.opts.LongTermTopK <= 0 {
		return nil
	}
	notes, err := a.recaller.Recall(ctx, in.Trigger.RoomID, in.Trigger.Text(), a.opts.LongTermTopK+len(skip))
	if err != nil {
		a.opts.Logger.Warn("prompt.recall_failed", "room_id", in.Trigger.RoomID, "error", err.Error())
		return nil
	}
	out := make([]memory.Note, 0, a.opts.LongTermTopK)
	for _, n := range notes {
		if skip[n.ID] {
			continue
		}
		out = append(out, n)
		if len(out) == a.opts.LongTermTopK {
			break
		}
	}
	return out
}
