package agentroom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentroom/core"
)

// Fixtures is a YAML document describing actors, agent definitions, rooms
// and relationships to load into a gateway.
type Fixtures struct {
	AgentDefinitions []core.AgentDefinition `yaml:"agent_definitions"`
	Actors           []core.Actor           `yaml:"actors"`
	Rooms            []RoomFixture          `yaml:"rooms"`
	Relationships    []core.Relationship    `yaml:"relationships"`
}

// RoomFixture is a room plus the ids of its initial members, joined in order.
type RoomFixture struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Members []string `yaml:"members"`
}

// SeedResult counts what Seed wrote. Records that already existed are
// counted as skipped.
type SeedResult struct {
	AgentDefinitions int
	Actors           int
	Rooms            int
	Members          int
	Relationships    int
	Skipped          int
}

// LoadFixtures reads a fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer f.Close()
	return ParseFixtures(f)
}

// ParseFixtures decodes fixtures and fills in defaults: actor kinds are
// inferred from the variant, creation times default to now, and user actors
// own themselves.
func ParseFixtures(r io.Reader) (*Fixtures, error) {
	fx := &Fixtures{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(fx); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	now := time.Now().UTC()
	for i := range fx.Actors {
		a := &fx.Actors[i]
		if a.Kind == "" {
			a.Kind = core.ActorUser
			if a.Agent != nil {
				a.Kind = core.ActorAgent
			}
		}
		if a.Kind == core.ActorUser && a.User == nil {
			a.User = &core.UserSettings{}
		}
		if a.User != nil && a.User.OwnerUserID == "" {
			a.User.OwnerUserID = a.ID
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		a.Capabilities = core.NormalizeCapabilities(a.Capabilities)
	}
	return fx, nil
}

// Seed writes fixtures into gw in dependency order. It is safe to run
// repeatedly: existing actors, definitions and rooms are left untouched.
func Seed(ctx context.Context, gw core.Gateway, fx *Fixtures) (SeedResult, error) {
	var res SeedResult
	for _, def := range fx.AgentDefinitions {
		if _, err := gw.GetAgentDefinition(ctx, def.ID); err == nil {
			res.Skipped++
			continue
		}
		if err := gw.PutAgentDefinition(ctx, def); err != nil {
			return res, fmt.Errorf("agent definition %s: %w", def.ID, err)
		}
		res.AgentDefinitions++
	}

	for _, a := range fx.Actors {
		if _, err := gw.GetActor(ctx, a.ID); err == nil {
			res.Skipped++
			continue
		}
		if err := gw.PutActor(ctx, a); err != nil {
			return res, fmt.Errorf("actor %s: %w", a.ID, err)
		}
		res.Actors++
	}

	for _, rf := range fx.Rooms {
		_, err := gw.GetRoom(ctx, rf.ID)
		switch {
		case err == nil:
			res.Skipped++
		case errors.Is(err, core.ErrNotFound):
			if err := gw.CreateRoom(ctx, core.NewRoom(rf.ID, rf.Title)); err != nil {
				return res, fmt.Errorf("room %s: %w", rf.ID, err)
			}
			res.Rooms++
		default:
			return res, fmt.Errorf("room %s: %w", rf.ID, err)
		}
		for i, id := range rf.Members {
			if _, err := gw.GetActor(ctx, id); err != nil {
				return res, fmt.Errorf("room %s member %s: %w", rf.ID, id, err)
			}
			// Spread join times so the stored member order matches the file.
			joined := time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
			changed, err := gw.AddRoomMember(ctx, rf.ID, id, joined)
			if err != nil {
				return res, fmt.Errorf("room %s member %s: %w", rf.ID, id, err)
			}
			if changed {
				res.Members++
			}
		}
	}

	for _, rel := range fx.Relationships {
		if rel.Status == "" {
			rel.Status = core.RelationshipAccepted
		}
		if err := gw.PutRelationship(ctx, rel); err != nil {
			return res, fmt.Errorf("relationship %s->%s: %w", rel.FromID, rel.ToID, err)
		}
		res.Relationships++
	}
	return res, nil
}
