package prompt

import (
	"strings"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/memory"
)

// ProfileBlock renders the non-blank profile fields, one per line. It
// returns "" for an empty profile.
func ProfileBlock(p core.UserProfile) string {
	var b strings.Builder
	for _, f := range p.Fields() {
		v := oneLine(f.Value)
		if v == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("User profile:")
		}
		b.WriteString("\n- ")
		b.WriteString(f.Label)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}

// LongTermBlock renders recalled notes as one line each.
func LongTermBlock(notes []memory.Note) string {
	var b strings.Builder
	for _, n := range notes {
		t := oneLine(n.Text)
		if t == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Relevant memories:")
		}
		b.WriteString("\n- ")
		b.WriteString(t)
	}
	return b.String()
}

// noteMaxLen caps a rendered note.
const noteMaxLen = 280

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > noteMaxLen {
		s = string(r[:noteMaxLen-1]) + "…"
	}
	return s
}
