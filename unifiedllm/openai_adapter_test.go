package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIAdapter("openai", "test-key", srv.URL, "gpt-4o")
}

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
	}
}

func TestOpenAIAdapterComplete(t *testing.T) {
	var gotAuth string
	var body map[string]interface{}
	adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "Looking.",
				"tool_calls": [{"id": "call_a", "type": "function", "function": {"name": "file_read", "arguments": "{\"path\":\"README.md\"}"}}]
			}}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`)
	})

	resp, err := adapter.Complete(context.Background(), Request{
		Messages: []Message{SystemMessage("sys"), UserMessage("read it")},
		ToolDefs: []ToolDefinition{{Name: "file_read", Description: "Read", Parameters: map[string]interface{}{"type": "object"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4o", body["model"], "default model in request")
	tools, _ := body["tools"].([]interface{})
	assert.Len(t, tools, 1)
	assert.Equal(t, "Looking.", resp.Text())

	calls := resp.ToolCallsFromResponse()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, `{"path":"README.md"}`, string(calls[0].Arguments))
	assert.Equal(t, "tool_calls", resp.FinishReason.Reason)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestOpenAIAdapterStream(t *testing.T) {
	adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_x","type":"function","function":{"name":"shell","arguments":"{\"comm"}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"and\":\"ls\"}"}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`[DONE]`,
		)
	})

	events, err := adapter.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	require.NoError(t, err)
	resp, err := Collect(context.Background(), "openai", events, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Text())

	calls := resp.ToolCallsFromResponse()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_x", calls[0].ID)
	assert.Equal(t, "shell", calls[0].Name)
	assert.Equal(t, `{"command":"ls"}`, string(calls[0].Arguments))
}

func TestOpenAIAdapterStreamWithoutFinish(t *testing.T) {
	adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"partial"}}]}`,
		)
	})

	events, err := adapter.Stream(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	require.NoError(t, err)
	_, err = Collect(context.Background(), "openai", events, nil)
	assert.Equal(t, KindIncompleteStream, Kind(err), "got %v", err)
}

func TestOpenAIAdapterErrors(t *testing.T) {
	tests := []struct {
		status int
		header string
		kind   ProviderErrorKind
	}{
		{http.StatusUnauthorized, "", KindAuth},
		{http.StatusTooManyRequests, "3", KindRateLimit},
		{http.StatusBadGateway, "", KindServer},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"error"}}`)
			})
			_, err := adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
			require.Equal(t, tt.kind, Kind(err), "got %v", err)
			if tt.header != "" {
				pe, ok := AsProviderError(err)
				require.True(t, ok)
				require.NotNil(t, pe.RetryAfter)
				assert.Equal(t, 3.0, *pe.RetryAfter)
			}
		})
	}
}

func TestOpenAIAdapterCustomHeaders(t *testing.T) {
	var referer, title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer, title = r.Header.Get("HTTP-Referer"), r.Header.Get("X-Title")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	adapter, err := NewAdapter(ProviderConfig{Kind: "openrouter", APIKey: "k", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	require.NoError(t, err)
	assert.True(t, strings.Contains(referer, "dinoe"), "referer %q", referer)
	assert.Equal(t, "Dinoe", title)
}

func TestToolCallFragment(t *testing.T) {
	ids := map[int64]string{}

	ev, ok := toolCallFragment(ids, 0, "call_a", "shell", `{"a"`)
	require.True(t, ok)
	assert.Equal(t, ToolCallStart, ev.Type)
	assert.Equal(t, "call_a", ev.ToolCallID)

	ev, ok = toolCallFragment(ids, 0, "", "", `:1}`)
	require.True(t, ok)
	assert.Equal(t, ToolCallDelta, ev.Type)
	assert.Equal(t, "call_a", ev.ToolCallID)
	assert.Equal(t, ":1}", ev.Delta)

	_, ok = toolCallFragment(ids, 0, "", "", "")
	assert.False(t, ok, "empty continuation should be dropped")

	ev, _ = toolCallFragment(ids, 1, "", "file_read", "")
	assert.Equal(t, ToolCallStart, ev.Type)
	assert.Equal(t, "call_1", ev.ToolCallID, "synthesized id")
	assert.Equal(t, "call_1", ids[1])
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := []Message{
		SystemMessage("sys"),
		UserMessage("hi"),
		AssistantToolCallMessage("", ToolCallData{ID: "c1", Name: "shell", Arguments: json.RawMessage(`{}`)}),
		ToolResultMessage("c1", "out", false),
		AssistantMessage("done"),
	}
	out := convertOpenAIMessages(msgs)
	require.Len(t, out, 5)
	require.NotNil(t, out[2].OfAssistant)
	assert.Len(t, out[2].OfAssistant.ToolCalls, 1)
	assert.NotNil(t, out[3].OfTool)
}

func TestMapOpenAIFinish(t *testing.T) {
	assert.Equal(t, "tool_calls", mapOpenAIFinish("function_call").Reason)
	fr := mapOpenAIFinish("weird")
	assert.Equal(t, "other", fr.Reason)
	assert.Equal(t, "weird", fr.Raw)
}
