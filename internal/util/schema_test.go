package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchema(t *testing.T) {
	type input struct {
		Channel string  `json:"channel" description:"target channel"`
		Limit   int     `json:"limit,omitempty"`
		Ratio   float64 `json:"ratio"`
		skipped string
	}

	schema := CreateSchema(input{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)

	channel, ok := props["channel"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", channel["type"])
	assert.Equal(t, "target channel", channel["description"])

	assert.Equal(t, map[string]any{"type": "integer"}, props["limit"])
	assert.Equal(t, map[string]any{"type": "number"}, props["ratio"])
	assert.NotContains(t, props, "skipped")

	assert.ElementsMatch(t, []string{"channel", "ratio"}, schema["required"])
}

func TestCreateSchemaNonStruct(t *testing.T) {
	schema := CreateSchema("not a struct")
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{"type": "string"},
			"limit":   map[string]any{"type": "integer"},
		},
		"required": []string{"channel"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"channel": "ops"}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"channel": "ops", "limit": 3}, schema))
	// JSON numbers arrive as float64; whole values satisfy integer fields.
	assert.NoError(t, ValidateParameters(map[string]any{"channel": "ops", "limit": float64(3)}, schema))
	// Extra fields are allowed.
	assert.NoError(t, ValidateParameters(map[string]any{"channel": "ops", "extra": true}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "channel", verr.Field)

	err = ValidateParameters(map[string]any{"channel": "ops", "limit": 3.5}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "limit", verr.Field)
}
