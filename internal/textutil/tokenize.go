// Package textutil holds the tokenizer shared by routing keyword extraction
// and the hashing embedder.
package textutil

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize splits text into lowercase alphanumeric tokens, discarding tokens
// shorter than 2 characters.
func Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]
	for _, m := range matches {
		if len(m) >= 2 {
			tokens = append(tokens, m)
		}
	}
	return tokens
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`about above after again against all am an and any are as at be because
		been before being below between both but by can could did do does doing down during each few for from
		further had has have having he her here hers him his how if in into is it its itself just me more most
		my no nor not now of off on once only or other our ours out over own please same she should so some
		such than that the their them then there these they this those through to too under until up very was
		we were what when where which while who whom why will with would you your yours hey hi hello thanks`) {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether token carries no routing signal.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// Keywords returns the distinct non-stop-word tokens of text in first-seen order.
func Keywords(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range Tokenize(text) {
		if IsStopWord(t) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
