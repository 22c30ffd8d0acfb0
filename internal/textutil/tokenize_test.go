package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"refactor", "the", "go", "code"}, Tokenize("Refactor the Go code, a b!"))
	assert.Empty(t, Tokenize("!! ?"))
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"code", "review", "pr"}, Keywords("Please code review this PR, code review again"))
}
