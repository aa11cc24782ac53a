package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string, required ...interface{}) Tool {
	return Tool{
		Name:        name,
		Description: "echo " + name,
		Parameters: map[string]interface{}{
			"type":     "object",
			"required": required,
		},
		Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
			s, _ := GetStringArg(args, "text")
			return s, nil
		},
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(echoTool("zeta"))
	reg.Register(echoTool("alpha"))
	reg.Register(echoTool("mid"))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
	defs := reg.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "echo alpha", defs[0].Description)
	assert.Equal(t, 3, reg.Count())

	reg.Register(echoTool("alpha"))
	assert.Equal(t, 3, reg.Count(), "register replaces by name")
}

func TestRegistryExecute(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(echoTool("echo", "text"))

	out, err := reg.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	tests := []struct {
		name string
		tool string
		args string
		kind ToolErrorKind
	}{
		{"unknown tool", "nope", `{}`, ToolUnknown},
		{"missing required", "echo", `{}`, ToolInvalidArguments},
		{"not an object", "echo", `[1,2]`, ToolInvalidArguments},
		{"invalid json", "echo", `{"text":`, ToolInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Execute(context.Background(), tt.tool, json.RawMessage(tt.args))
			require.Error(t, err)
			assert.Equal(t, tt.kind, ToolErrorKindOf(err))
		})
	}
}

func TestRequiredFieldsAcceptsBothSliceShapes(t *testing.T) {
	assert.Equal(t, []string{"a"}, requiredFields(map[string]interface{}{"required": []string{"a"}}))
	assert.Equal(t, []string{"a", "b"}, requiredFields(map[string]interface{}{"required": []interface{}{"a", "b", 3}}))
	assert.Nil(t, requiredFields(map[string]interface{}{}))
}

func TestArgumentHelpers(t *testing.T) {
	args, err := ParseToolArguments(json.RawMessage(`{"s":"x","n":3,"f":2.0}`))
	require.NoError(t, err)

	s, ok := GetStringArg(args, "s")
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	n, ok := GetIntArg(args, "n")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = GetIntArg(args, "s")
	assert.False(t, ok)
	_, ok = GetStringArg(args, "missing")
	assert.False(t, ok)

	empty, err := ParseToolArguments(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseToolArguments(json.RawMessage(`null`))
	assert.Error(t, err)
}
