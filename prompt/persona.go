// Package prompt assembles the ordered model context for one agent turn:
// a single system entry (preamble, persona, memory), the short-term window of
// recent room messages and the triggering message.
package prompt

import (
	"regexp"
	"strings"
)

// Persona is the structured view of an agent definition's instructions.
type Persona struct {
	Personality       string
	ExtraInstructions string
}

// IsZero reports whether both sections are empty.
func (p Persona) IsZero() bool { return p.Personality == "" && p.ExtraInstructions == "" }

var sectionHeader = regexp.MustCompile(`(?im)^[ \t]*(personality|extra\s+instructions)\s*:`)

// ParsePersona splits free-form instructions into the "Personality:" and
// "Extra instructions:" sections. A header must start a line; it matches
// case-insensitively, in either order. A missing section yields an empty
// field; text before the first header belongs to neither.
func ParsePersona(instructions string) Persona {
	var p Persona
	locs := sectionHeader.FindAllStringSubmatchIndex(instructions, -1)
	for i, loc := range locs {
		end := len(instructions)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(instructions[loc[1]:end])
		name := strings.ToLower(instructions[loc[2]:loc[3]])
		if strings.HasPrefix(name, "personality") {
			if p.Personality == "" {
				p.Personality = body
			}
		} else if p.ExtraInstructions == "" {
			p.ExtraInstructions = body
		}
	}
	return p
}

// Render formats the persona for the system entry. Empty sections are omitted.
func (p Persona) Render() string {
	var parts []string
	if p.Personality != "" {
		parts = append(parts, "Personality:\n"+p.Personality)
	}
	if p.ExtraInstructions != "" {
		parts = append(parts, "Extra instructions:\n"+p.ExtraInstructions)
	}
	return strings.Join(parts, "\n\n")
}
