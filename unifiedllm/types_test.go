package unifiedllm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageConstructors(t *testing.T) {
	t.Run("SystemMessage", func(t *testing.T) {
		msg := SystemMessage("You are helpful.")
		assert.Equal(t, RoleSystem, msg.Role)
		assert.Equal(t, "You are helpful.", msg.TextContent())
	})

	t.Run("UserMessage", func(t *testing.T) {
		msg := UserMessage("Hello")
		assert.Equal(t, RoleUser, msg.Role)
		assert.Equal(t, "Hello", msg.TextContent())
	})

	t.Run("AssistantToolCallMessage", func(t *testing.T) {
		msg := AssistantToolCallMessage("checking",
			ToolCallData{ID: "c1", Name: "file_read", Arguments: json.RawMessage(`{"path":"a"}`)},
			ToolCallData{ID: "c2", Name: "shell", Arguments: json.RawMessage(`{"command":"ls"}`)},
		)
		assert.Equal(t, RoleAssistant, msg.Role)
		assert.Equal(t, "checking", msg.TextContent())
		calls := msg.ToolCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, "c1", calls[0].ID)
		assert.Equal(t, "c2", calls[1].ID)
	})

	t.Run("ToolResultMessage", func(t *testing.T) {
		msg := ToolResultMessage("call_123", "72F and sunny", true)
		assert.Equal(t, RoleTool, msg.Role)
		assert.Equal(t, "call_123", msg.ToolCallID)
		tr := msg.ToolResult()
		require.NotNil(t, tr)
		assert.Equal(t, "72F and sunny", tr.Content)
		assert.True(t, tr.IsError)
	})
}

func TestMessageTextContent(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("Hello "),
			ToolCallPart("c1", "shell", json.RawMessage(`{}`)),
			TextPart("world"),
		},
	}
	assert.Equal(t, "Hello world", msg.TextContent())
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}
	b := Usage{InputTokens: 5, OutputTokens: 15, TotalTokens: 20}
	assert.Equal(t, Usage{InputTokens: 15, OutputTokens: 35, TotalTokens: 50}, a.Add(b))
}

func TestResponseKind(t *testing.T) {
	text := Response{Message: AssistantMessage("done")}
	assert.Equal(t, ResponseText, text.Kind())
	calls := Response{Message: AssistantToolCallMessage("", ToolCallData{ID: "c1", Name: "shell", Arguments: json.RawMessage(`{}`)})}
	assert.Equal(t, ResponseToolCalls, calls.Kind())
}

func TestToolCallsFromResponse(t *testing.T) {
	resp := Response{Message: AssistantToolCallMessage("",
		ToolCallData{ID: "ok", Name: "file_read", Arguments: json.RawMessage(`{"path":"README.md"}`)},
		ToolCallData{ID: "empty", Name: "shell", Arguments: nil},
		ToolCallData{ID: "broken", Name: "shell", Arguments: json.RawMessage(`{"command": "ls`)},
		ToolCallData{ID: "array", Name: "shell", Arguments: json.RawMessage(`[1,2]`)},
	)}

	calls := resp.ToolCallsFromResponse()
	require.Len(t, calls, 4)
	assert.Nil(t, calls[0].ParseError, "valid call flagged")
	assert.Equal(t, "{}", string(calls[1].Arguments), "empty arguments normalize to {}")
	assert.Nil(t, calls[1].ParseError)

	require.NotNil(t, calls[2].ParseError, "truncated JSON should be flagged")
	assert.Equal(t, "broken", calls[2].ParseError.CallID)
	assert.Equal(t, `{"command": "ls`, calls[2].ParseError.Raw)

	assert.NotNil(t, calls[3].ParseError, "non-object arguments should be flagged")
}
