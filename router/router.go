// Package router decides which agents reply to a new room message.
//
// Rules are evaluated in priority order and the first rule that selects
// anyone wins:
//
//  1. explicit: the message names an agent by @handle or display name
//  2. capability: message keywords (plus configured synonyms) hit an agent's tags
//  3. semantic: embedding similarity to the agent profile clears a threshold
//  4. default: the room has exactly one agent
//
// Selections within a rule are ordered by join time, then actor id.
package router

import (
	"context"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/embedding"
	"github.com/hupe1980/agentroom/internal/textutil"
	"github.com/hupe1980/agentroom/logging"
	"github.com/hupe1980/agentroom/metrics"
	"golang.org/x/sync/singleflight"
)

// Rule names the routing rule that produced a selection.
type Rule string

const (
	RuleExplicit   Rule = "explicit"
	RuleCapability Rule = "capability"
	RuleSemantic   Rule = "semantic"
	RuleDefault    Rule = "default"
)

// Config holds the routing policy parameters.
type Config struct {
	// SemanticThreshold is the minimum score for a semantic selection.
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	// RelationshipBoost is added to the semantic score of agents the author
	// has an accepted relationship with.
	RelationshipBoost float64 `yaml:"relationship_boost"`
	// DefaultSingleAgent selects the only agent of a room when no rule matched.
	DefaultSingleAgent bool `yaml:"default_single_agent"`
	// MatchDisplayName enables addressing agents by display name.
	MatchDisplayName bool `yaml:"match_display_name"`
	// Synonyms maps a capability tag to keywords that also signal it.
	Synonyms map[string][]string `yaml:"synonyms"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		SemanticThreshold:  0.35,
		RelationshipBoost:  0.05,
		DefaultSingleAgent: true,
		MatchDisplayName:   true,
	}
}

// Candidate is an agent member of the room.
type Candidate struct {
	Actor      core.Actor
	Definition *core.AgentDefinition
	JoinedAt   time.Time
}

// Request is one routing decision's input.
type Request struct {
	Message    core.Message
	Candidates []Candidate
	// Relationships are the author's outgoing relationships.
	Relationships []core.Relationship
}

// Selection is one agent chosen to reply.
type Selection struct {
	ActorID string  `json:"actorId"`
	Rule    Rule    `json:"rule"`
	Score   float64 `json:"score"`
}

// Options configure a Router.
type Options struct {
	Config   Config
	Embedder embedding.Embedder
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

// Router is safe for concurrent use. It caches agent profile embeddings.
type Router struct {
	opts     Options
	synonyms map[string][]string // keyword -> tags

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]profileVector // actor id -> vector
}

type profileVector struct {
	hash string
	vec  []float32
}

// New creates a router. A nil Embedder disables the semantic rule.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{Config: DefaultConfig(), Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Router{opts: opts, synonyms: map[string][]string{}, cache: map[string]profileVector{}}
	for tag, words := range opts.Config.Synonyms {
		tag = strings.ToLower(strings.TrimSpace(tag))
		for _, w := range words {
			for _, kw := range textutil.Tokenize(w) {
				r.synonyms[kw] = append(r.synonyms[kw], tag)
			}
		}
	}
	return r
}

// Route returns the agents that should reply, in dispatch order. Messages
// authored by agents never route. Failures inside a rule (for example an
// unavailable embedder) skip that rule.
func (r *Router) Route(ctx context.Context, req Request) []Selection {
	if req.Message.AuthorKind == core.ActorAgent {
		return nil
	}
	candidates := eligible(req)
	if len(candidates) == 0 {
		return nil
	}
	text := req.Message.Text()

	rules := []func() []Selection{
		func() []Selection { return r.explicit(text, candidates) },
		func() []Selection { return r.capability(text, candidates) },
		func() []Selection { return r.semantic(ctx, req, text, candidates) },
		func() []Selection { return r.fallback(candidates) },
	}
	for _, rule := range rules {
		if sel := rule(); len(sel) > 0 {
			for _, s := range sel {
				r.opts.Metrics.Routed(string(s.Rule))
			}
			r.opts.Logger.Debug("router.selected", "message_id", req.Message.ID, "rule", string(sel[0].Rule), "agents", len(sel))
			return sel
		}
	}
	return nil
}

// eligible keeps agent candidates other than the author, ordered by join time then id.
func eligible(req Request) []Candidate {
	out := make([]Candidate, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		if !c.Actor.IsAgent() || c.Actor.ID == req.Message.AuthorID {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].Actor.ID < out[j].Actor.ID
	})
	return out
}

var mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_.\-]+)`)

// Mentions returns the case-folded handles mentioned in text.
func Mentions(text string) []string {
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if h := core.HandleKey(strings.TrimRight(m[1], ".-")); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func (r *Router) explicit(text string, candidates []Candidate) []Selection {
	mentioned := map[string]bool{}
	for _, h := range Mentions(text) {
		mentioned[h] = true
	}
	lower := strings.ToLower(text)

	var out []Selection
	for _, c := range candidates {
		if mentioned[c.Actor.HandleKey()] || (r.opts.Config.MatchDisplayName && containsPhrase(lower, c.Actor.DisplayName)) {
			out = append(out, Selection{ActorID: c.Actor.ID, Rule: RuleExplicit, Score: 1})
		}
	}
	return out
}

// containsPhrase reports whether name occurs in lowerText delimited by
// non-alphanumeric characters.
func containsPhrase(lowerText, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if len([]rune(name)) < 2 {
		return false
	}
	for i := 0; ; {
		idx := strings.Index(lowerText[i:], name)
		if idx < 0 {
			return false
		}
		start, end := i+idx, i+idx+len(name)
		if boundary(lowerText, start-1) && boundary(lowerText, end) {
			return true
		}
		i = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c >= 0x80)
}

// Signals returns the message's keywords expanded by the synonym table.
func (r *Router) Signals(text string) map[string]bool {
	signals := map[string]bool{}
	for _, kw := range textutil.Keywords(text) {
		signals[kw] = true
		for _, tag := range r.synonyms[kw] {
			signals[tag] = true
		}
	}
	return signals
}

func (r *Router) capability(text string, candidates []Candidate) []Selection {
	signals := r.Signals(text)
	if len(signals) == 0 {
		return nil
	}
	var out []Selection
	for _, c := range candidates {
		hits := 0
		for _, tag := range c.Actor.Capabilities {
			if tagMatches(tag, signals) {
				hits++
			}
		}
		if hits > 0 {
			out = append(out, Selection{ActorID: c.Actor.ID, Rule: RuleCapability, Score: float64(hits)})
		}
	}
	return out
}

// tagMatches reports whether a capability tag is signalled. Tags are compared
// case-folded; a tag of several words such as "real-estate" matches when each
// of its tokens is a signal.
func tagMatches(tag string, signals map[string]bool) bool {
	if signals[strings.ToLower(strings.TrimSpace(tag))] {
		return true
	}
	tokens := textutil.Tokenize(tag)
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !signals[t] {
			return false
		}
	}
	return true
}

func (r *Router) semantic(ctx context.Context, req Request, text string, candidates []Candidate) []Selection {
	if r.opts.Embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	msgVec, err := r.opts.Embedder.Embed(ctx, text)
	if err != nil {
		r.opts.Logger.Warn("router.embed_failed", "message_id", req.Message.ID, "error", err.Error())
		return nil
	}

	accepted := map[string]bool{}
	for _, rel := range req.Relationships {
		if rel.FromID == req.Message.AuthorID && rel.Status == core.RelationshipAccepted {
			accepted[rel.ToID] = true
		}
	}

	var out []Selection
	for _, c := range candidates {
		vec, err := r.profileVector(ctx, c)
		if err != nil {
			r.opts.Logger.Warn("router.profile_embed_failed", "actor_id", c.Actor.ID, "error", err.Error())
			continue
		}
		score := embedding.Cosine(msgVec, vec)
		if accepted[c.Actor.ID] {
			score += r.opts.Config.RelationshipBoost
		}
		if score >= r.opts.Config.SemanticThreshold {
			out = append(out, Selection{ActorID: c.Actor.ID, Rule: RuleSemantic, Score: score})
		}
	}
	return out
}

func (r *Router) fallback(candidates []Candidate) []Selection {
	if !r.opts.Config.DefaultSingleAgent || len(candidates) != 1 {
		return nil
	}
	return []Selection{{ActorID: candidates[0].Actor.ID, Rule: RuleDefault}}
}

// ProfileText is the text embedded to represent an agent.
func ProfileText(c Candidate) string {
	parts := []string{c.Actor.Name(), c.Actor.Handle}
	if len(c.Actor.Capabilities) > 0 {
		parts = append(parts, strings.Join(c.Actor.Capabilities, " "))
	}
	if d := c.Definition; d != nil {
		parts = append(parts, d.Interests, d.Instructions)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// profileVector returns the cached profile embedding, computing it once per
// profile version even under concurrent routing.
func (r *Router) profileVector(ctx context.Context, c Candidate) ([]float32, error) {
	text := ProfileText(c)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	hash := strconv.FormatUint(h.Sum64(), 16)

	r.mu.RLock()
	pv, ok := r.cache[c.Actor.ID]
	r.mu.RUnlock()
	if ok && pv.hash == hash {
		return pv.vec, nil
	}

	v, err, _ := r.group.Do(c.Actor.ID+":"+hash, func() (any, error) {
		vec, err := r.opts.Embedder.Embed(context.WithoutCancel(ctx), text)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[c.Actor.ID] = profileVector{hash: hash, vec: vec}
		r.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}
