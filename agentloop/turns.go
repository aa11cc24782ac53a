package agentloop

import (
	"encoding/json"
	"time"

	"github.com/martinemde/dinoe/unifiedllm"
)

// TurnKind discriminates between conversation entries.
type TurnKind string

const (
	TurnUser       TurnKind = "user"
	TurnAssistant  TurnKind = "assistant"
	TurnToolCall   TurnKind = "tool_call"
	TurnToolResult TurnKind = "tool_result"
	TurnSummary    TurnKind = "summary"
)

// ResultStatus is the outcome of one tool call.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
)

// ToolResult answers exactly one tool call.
type ToolResult struct {
	CallID  string       `json:"call_id"`
	Status  ResultStatus `json:"status"`
	Payload string       `json:"payload"`
}

// IsError reports a failure result.
func (r ToolResult) IsError() bool { return r.Status == StatusFailure }

// Turn is a single entry in the conversation history. Tool call entries of
// one provider round share a Round number so they can be regrouped into a
// single assistant message.
type Turn struct {
	Kind      TurnKind                 `json:"kind"`
	Timestamp time.Time                `json:"timestamp"`
	Content   string                   `json:"content,omitempty"`
	Call      *unifiedllm.ToolCallData `json:"call,omitempty"`
	Result    *ToolResult              `json:"result,omitempty"`
	Round     int                      `json:"round,omitempty"`
}

func NewUserTurn(content string) Turn {
	return Turn{Kind: TurnUser, Timestamp: time.Now(), Content: content}
}

func NewAssistantTurn(content string) Turn {
	return Turn{Kind: TurnAssistant, Timestamp: time.Now(), Content: content}
}

func NewSummaryTurn(content string) Turn {
	return Turn{Kind: TurnSummary, Timestamp: time.Now(), Content: content}
}

// NewToolCallTurn records a requested call. text is the assistant text that
// accompanied the round and is only set on the round's first call.
func NewToolCallTurn(round int, text string, call unifiedllm.ToolCallData) Turn {
	return Turn{Kind: TurnToolCall, Timestamp: time.Now(), Content: text, Call: &call, Round: round}
}

func NewToolResultTurn(round int, result ToolResult) Turn {
	return Turn{Kind: TurnToolResult, Timestamp: time.Now(), Result: &result, Round: round}
}

// Conversation is the ordered, append-only history of one session. It is
// not safe for concurrent use; the owning Session serializes access.
type Conversation struct {
	turns []Turn
}

// Append adds turns at the end and returns the index of the first one.
func (c *Conversation) Append(turns ...Turn) int {
	idx := len(c.turns)
	c.turns = append(c.turns, turns...)
	return idx
}

// Turns returns a copy of the history.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int { return len(c.turns) }

// replace swaps the whole history; used by compaction.
func (c *Conversation) replace(turns []Turn) {
	c.turns = turns
}

// Messages renders the history for a provider.
func (c *Conversation) Messages() []unifiedllm.Message {
	return renderTurns(c.turns)
}

// renderTurns converts turns into provider messages. All calls of a round
// become one assistant message followed by their results in request order.
// A call without a result (or a result without a call) is never sent.
func renderTurns(turns []Turn) []unifiedllm.Message {
	var messages []unifiedllm.Message
	for i := 0; i < len(turns); {
		t := turns[i]
		switch t.Kind {
		case TurnUser:
			messages = append(messages, unifiedllm.UserMessage(t.Content))
		case TurnAssistant:
			messages = append(messages, unifiedllm.AssistantMessage(t.Content))
		case TurnSummary:
			messages = append(messages, unifiedllm.SystemMessage(t.Content))
		case TurnToolCall:
			end := i
			for end < len(turns) && (turns[end].Kind == TurnToolCall || turns[end].Kind == TurnToolResult) && turns[end].Round == t.Round {
				end++
			}
			messages = append(messages, renderRound(turns[i:end])...)
			i = end
			continue
		}
		i++
	}
	return messages
}

func renderRound(round []Turn) []unifiedllm.Message {
	results := make(map[string]*ToolResult)
	for _, t := range round {
		if t.Kind == TurnToolResult && t.Result != nil {
			results[t.Result.CallID] = t.Result
		}
	}

	var text string
	var calls []unifiedllm.ToolCallData
	var answers []unifiedllm.Message
	for _, t := range round {
		if t.Kind != TurnToolCall || t.Call == nil {
			continue
		}
		if text == "" {
			text = t.Content
		}
		res, ok := results[t.Call.ID]
		if !ok {
			continue
		}
		call := *t.Call
		if !json.Valid(call.Arguments) {
			call.Arguments = json.RawMessage("{}")
		}
		calls = append(calls, call)
		answers = append(answers, unifiedllm.ToolResultMessage(call.ID, res.Payload, res.IsError()))
	}
	if len(calls) == 0 {
		if text != "" {
			return []unifiedllm.Message{unifiedllm.AssistantMessage(text)}
		}
		return nil
	}
	return append([]unifiedllm.Message{unifiedllm.AssistantToolCallMessage(text, calls...)}, answers...)
}
