package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ActorKind discriminates the Actor variant.
type ActorKind string

const (
	// ActorUser is a human participant.
	ActorUser ActorKind = "user"
	// ActorAgent is an autonomous agent participant bound to an AgentDefinition.
	ActorAgent ActorKind = "agent"
)

// UserProfile holds the optional personal fields surfaced to agents as memory
// context. Blank fields are never rendered.
type UserProfile struct {
	Name     string `json:"name,omitempty" yaml:"name" cbor:"1,keyasint,omitempty"`
	Email    string `json:"email,omitempty" yaml:"email" cbor:"2,keyasint,omitempty"`
	Phone    string `json:"phone,omitempty" yaml:"phone" cbor:"3,keyasint,omitempty"`
	Location string `json:"location,omitempty" yaml:"location" cbor:"4,keyasint,omitempty"`
	Company  string `json:"company,omitempty" yaml:"company" cbor:"5,keyasint,omitempty"`
	Website  string `json:"website,omitempty" yaml:"website" cbor:"6,keyasint,omitempty"`
	Bio      string `json:"bio,omitempty" yaml:"bio" cbor:"7,keyasint,omitempty"`
}

// IsZero reports whether every profile field is blank.
func (p UserProfile) IsZero() bool {
	for _, f := range p.Fields() {
		if strings.TrimSpace(f.Value) != "" {
			return false
		}
	}
	return true
}

// ProfileField is one labelled profile value.
type ProfileField struct {
	Label string
	Value string
}

// Fields returns the profile fields in their canonical rendering order.
func (p UserProfile) Fields() []ProfileField {
	return []ProfileField{
		{"Name", p.Name},
		{"Email", p.Email},
		{"Phone", p.Phone},
		{"Location", p.Location},
		{"Company", p.Company},
		{"Website", p.Website},
		{"Bio", p.Bio},
	}
}

// UserSettings is the payload of the user variant.
type UserSettings struct {
	// OwnerUserID is the external account the actor belongs to (one account per actor).
	OwnerUserID string      `json:"ownerUserId" yaml:"owner_user_id" cbor:"1,keyasint"`
	Profile     UserProfile `json:"profile" yaml:"profile" cbor:"2,keyasint"`
}

// AgentSettings is the payload of the agent variant.
type AgentSettings struct {
	// DefinitionID references the AgentDefinition this actor embodies.
	DefinitionID string `json:"definitionId" yaml:"definition_id" cbor:"1,keyasint"`
	// CreatorID optionally names the user actor that created the agent.
	CreatorID string `json:"creatorId,omitempty" yaml:"creator_id" cbor:"2,keyasint,omitempty"`
}

// Actor is a room participant. Exactly one of User or Agent is set and it
// must match Kind.
type Actor struct {
	ID           string         `json:"id" yaml:"id" cbor:"1,keyasint"`
	Kind         ActorKind      `json:"kind" yaml:"kind" cbor:"2,keyasint"`
	Handle       string         `json:"handle" yaml:"handle" cbor:"3,keyasint"`
	DisplayName  string         `json:"displayName" yaml:"display_name" cbor:"4,keyasint"`
	Capabilities []string       `json:"capabilities,omitempty" yaml:"capabilities" cbor:"5,keyasint,omitempty"`
	CreatedAt    time.Time      `json:"createdAt" yaml:"created_at" cbor:"6,keyasint"`
	User         *UserSettings  `json:"user,omitempty" yaml:"user" cbor:"7,keyasint,omitempty"`
	Agent        *AgentSettings `json:"agent,omitempty" yaml:"agent" cbor:"8,keyasint,omitempty"`
}

// NewUserActor builds a user actor with the given handle and display name.
func NewUserActor(id, handle, displayName string, profile UserProfile) Actor {
	return Actor{
		ID:          id,
		Kind:        ActorUser,
		Handle:      handle,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
		User:        &UserSettings{OwnerUserID: id, Profile: profile},
	}
}

// NewAgentActor builds an agent actor bound to definitionID.
func NewAgentActor(id, handle, displayName, definitionID string, capabilities ...string) Actor {
	return Actor{
		ID:           id,
		Kind:         ActorAgent,
		Handle:       handle,
		DisplayName:  displayName,
		Capabilities: NormalizeCapabilities(capabilities),
		CreatedAt:    time.Now().UTC(),
		Agent:        &AgentSettings{DefinitionID: definitionID},
	}
}

// IsAgent reports whether the actor is the agent variant.
func (a Actor) IsAgent() bool { return a.Kind == ActorAgent }

// HandleKey returns the case-folded handle used for uniqueness and addressing.
func (a Actor) HandleKey() string { return HandleKey(a.Handle) }

// Name returns the display name, falling back to the handle.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Handle
}

// Profile returns the user profile, or the zero profile for agents.
func (a Actor) Profile() UserProfile {
	if a.User == nil {
		return UserProfile{}
	}
	return a.User.Profile
}

// DefinitionID returns the bound agent definition id ("" for users).
func (a Actor) DefinitionID() string {
	if a.Agent == nil {
		return ""
	}
	return a.Agent.DefinitionID
}

// HasCapability reports whether tag (case-insensitive) is one of the actor's capabilities.
func (a Actor) HasCapability(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Validate checks the variant invariants.
func (a Actor) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: actor id is empty", ErrInvalid)
	}
	if strings.TrimSpace(a.Handle) == "" || strings.ContainsAny(a.Handle, " \t\n@") {
		return fmt.Errorf("%w: actor %s has invalid handle %q", ErrInvalid, a.ID, a.Handle)
	}
	switch a.Kind {
	case ActorUser:
		if a.User == nil || a.Agent != nil {
			return fmt.Errorf("%w: user actor %s must carry only user settings", ErrInvalid, a.ID)
		}
	case ActorAgent:
		if a.Agent == nil || a.User != nil {
			return fmt.Errorf("%w: agent actor %s must carry only agent settings", ErrInvalid, a.ID)
		}
		if a.Agent.DefinitionID == "" {
			return fmt.Errorf("%w: agent actor %s has no definition", ErrInvalid, a.ID)
		}
	default:
		return fmt.Errorf("%w: actor %s has unknown kind %q", ErrInvalid, a.ID, a.Kind)
	}
	return nil
}

// Clone returns a deep copy.
func (a Actor) Clone() Actor {
	out := a
	out.Capabilities = append([]string(nil), a.Capabilities...)
	if a.User != nil {
		u := *a.User
		out.User = &u
	}
	if a.Agent != nil {
		ag := *a.Agent
		out.Agent = &ag
	}
	return out
}

// HandleKey case-folds a handle (with or without a leading @).
func HandleKey(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// NormalizeCapabilities lower-cases, trims, de-duplicates and sorts tags.
func NormalizeCapabilities(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// AgentDefinition is the configuration an agent actor embodies.
type AgentDefinition struct {
	ID   string `json:"id" yaml:"id" cbor:"1,keyasint"`
	Name string `json:"name" yaml:"name" cbor:"2,keyasint"`
	// Instructions is free-form text that may contain "Personality:" and
	// "Extra instructions:" sections.
	Instructions string `json:"instructions" yaml:"instructions" cbor:"3,keyasint"`
	// Interests describes topics the agent should pick up without being addressed.
	Interests string `json:"interests,omitempty" yaml:"interests" cbor:"4,keyasint,omitempty"`
	// Model is the provider registry key; empty selects the default model.
	Model string `json:"model,omitempty" yaml:"model" cbor:"5,keyasint,omitempty"`
	// Tools lists the toolsets the agent may call; empty allows none.
	Tools []string `json:"tools,omitempty" yaml:"tools" cbor:"6,keyasint,omitempty"`
}

// Validate checks required fields.
func (d AgentDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: agent definition id is empty", ErrInvalid)
	}
	return nil
}
