package agentloop

import (
	"encoding/json"
	"testing"

	"github.com/martinemde/dinoe/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationAppendReturnsIndex(t *testing.T) {
	var c Conversation
	assert.Equal(t, 0, c.Append(NewUserTurn("a")))
	assert.Equal(t, 1, c.Append(NewAssistantTurn("b"), NewUserTurn("c")))
	assert.Equal(t, 3, c.Len())

	turns := c.Turns()
	turns[0].Content = "changed"
	assert.Equal(t, "a", c.Turns()[0].Content, "Turns must return a copy")
}

func TestRenderGroupsRoundIntoOneAssistantMessage(t *testing.T) {
	var c Conversation
	c.Append(
		NewSummaryTurn("[Conversation summary]\nearlier"),
		NewUserTurn("read two files"),
		NewToolCallTurn(1, "Reading both.", call("a", "file_read", `{"path":"a"}`)),
		NewToolResultTurn(1, ToolResult{CallID: "a", Status: StatusSuccess, Payload: "A"}),
		NewToolCallTurn(1, "", call("b", "file_read", `{"path":"b"}`)),
		NewToolResultTurn(1, ToolResult{CallID: "b", Status: StatusFailure, Payload: "missing"}),
		NewAssistantTurn("A, and b is missing"),
	)

	msgs := c.Messages()
	require.Len(t, msgs, 6)
	assert.Equal(t, unifiedllm.RoleSystem, msgs[0].Role)
	assert.Equal(t, unifiedllm.RoleUser, msgs[1].Role)

	assert.Equal(t, unifiedllm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Reading both.", msgs[2].TextContent())
	calls := msgs[2].ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, "b", calls[1].ID)

	assert.Equal(t, "a", msgs[3].ToolCallID)
	assert.False(t, msgs[3].ToolResult().IsError)
	assert.Equal(t, "b", msgs[4].ToolCallID)
	assert.True(t, msgs[4].ToolResult().IsError)
	assert.Equal(t, "A, and b is missing", msgs[5].TextContent())
}

func TestRenderSeparatesConsecutiveRounds(t *testing.T) {
	turns := []Turn{
		NewUserTurn("go"),
		NewToolCallTurn(1, "", call("a", "shell", `{}`)),
		NewToolResultTurn(1, ToolResult{CallID: "a", Status: StatusSuccess, Payload: "1"}),
		NewToolCallTurn(2, "", call("b", "shell", `{}`)),
		NewToolResultTurn(2, ToolResult{CallID: "b", Status: StatusSuccess, Payload: "2"}),
	}
	msgs := renderTurns(turns)
	require.Len(t, msgs, 5)
	assert.Len(t, msgs[1].ToolCalls(), 1)
	assert.Equal(t, "a", msgs[2].ToolCallID)
	assert.Len(t, msgs[3].ToolCalls(), 1)
	assert.Equal(t, "b", msgs[4].ToolCallID)
}

func TestRenderDropsUnpairedCalls(t *testing.T) {
	turns := []Turn{
		NewUserTurn("go"),
		NewToolCallTurn(1, "thinking", call("a", "shell", `{}`)),
	}
	msgs := renderTurns(turns)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[1].ToolCalls())
	assert.Equal(t, "thinking", msgs[1].TextContent())
}

func TestRenderRepairsInvalidArguments(t *testing.T) {
	turns := []Turn{
		NewToolCallTurn(1, "", unifiedllm.ToolCallData{ID: "x", Name: "shell", Arguments: json.RawMessage(`{"command":`)}),
		NewToolResultTurn(1, ToolResult{CallID: "x", Status: StatusFailure, Payload: "malformed"}),
	}
	msgs := renderTurns(turns)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{}`, string(msgs[0].ToolCalls()[0].Arguments))
}
