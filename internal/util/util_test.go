package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type historyArgs struct {
	Limit int    `json:"limit,omitempty" description:"Maximum messages"`
	Query string `json:"query" description:"Search text"`
	Order string `json:"order,omitempty" enum:"asc,desc"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(historyArgs{})
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "limit")
	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
	assert.Equal(t, []any{"asc", "desc"}, props["order"].(map[string]any)["enum"])
	assert.Equal(t, []string{"query"}, RequiredFields(schema))
}

func TestValidateParameters(t *testing.T) {
	schema := CreateSchema(historyArgs{})

	require.NoError(t, ValidateParameters(map[string]any{"query": "go", "limit": 5.0}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "query", vErr.Field)

	err = ValidateParameters(map[string]any{"query": "go", "limit": 1.5}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type integer")

	err = ValidateParameters(map[string]any{"query": "go", "order": "sideways"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "order", vErr.Field)
}

func TestValidateParametersJSONRequired(t *testing.T) {
	schema := map[string]any{"type": "object", "required": []any{"x"}}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"x": 1}, schema))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain <text>", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain <text>", out)

	out, err = RenderTemplate(`Hi {{default "there" .User}} & {{upper .Agent}}`, map[string]any{"Agent": "bot"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there & BOT", out)

	_, err = RenderTemplate("{{.Broken", nil)
	assert.Error(t, err)
}

func TestArgs(t *testing.T) {
	args := map[string]any{"n": 3.0, "s": "x"}
	assert.Equal(t, 3, IntArg(args, "n", 10))
	assert.Equal(t, 10, IntArg(args, "missing", 10))
	assert.Equal(t, "x", StringArg(args, "s"))
}
