package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	events   []StreamEvent
	calls    int
	streams  int
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	m.streams++
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan StreamEvent, len(m.events))
	for _, e := range m.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:           "test_resp",
			Model:        "test-model",
			Provider:     name,
			Message:      AssistantMessage(text),
			FinishReason: FinishReason{Reason: "stop"},
			Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(
		WithProvider("test-provider", mock),
		WithDefaultProvider("test-provider"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Text())
	assert.Equal(t, "test-provider", resp.Provider)
}

func TestClientProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	ollama := newMockAdapter("ollama", "Ollama response")

	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("ollama", ollama),
		WithDefaultProvider("openai"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "llama3.1",
		Messages: []Message{UserMessage("Hi")},
		Provider: "ollama",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ollama response", resp.Text())

	resp, err = client.Complete(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []Message{UserMessage("Hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "OpenAI response", resp.Text())
}

func TestClientNoProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestClientMiddlewareOrder(t *testing.T) {
	mock := newMockAdapter("test", "response")
	var order []int

	mw1 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 1)
		resp, err := next(ctx, req)
		order = append(order, -1)
		return resp, err
	}
	mw2 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 2)
		resp, err := next(ctx, req)
		order = append(order, -2)
		return resp, err
	}

	client := NewClient(
		WithProvider("test", mock),
		WithMiddleware(mw1, mw2),
	)

	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	require.NoError(t, err)

	// Onion pattern: first registered runs first for request, reverse for response.
	assert.Equal(t, []int{1, 2, -2, -1}, order)
}

func TestClientRetryMiddleware(t *testing.T) {
	mock := newMockAdapter("test", "ok")
	mock.err = NewNetworkError("test", errors.New("reset"))
	policy := fastPolicy(2)

	client := NewClient(WithProvider("test", mock), WithRetry(policy))
	_, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	require.Equal(t, KindNetwork, Kind(err), "got %v", err)
	assert.Equal(t, 3, mock.calls)

	mock.calls = 0
	mock.err = ErrorFromStatusCode(401, "bad key", "test", "", nil)
	_, err = client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	require.Equal(t, KindAuth, Kind(err), "got %v", err)
	assert.Equal(t, 1, mock.calls, "auth errors must not be retried")
}

func TestClientRegisterProvider(t *testing.T) {
	client := NewClient()
	mock := newMockAdapter("dynamic", "dynamic response")
	client.RegisterProvider("dynamic", mock)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "dynamic response", resp.Text())
}

func TestClientSendStreamingMatchesBlocking(t *testing.T) {
	full := &Response{
		Provider: "test",
		Message: AssistantToolCallMessage("Reading.",
			ToolCallData{ID: "c1", Name: "file_read", Arguments: json.RawMessage(`{"path":"README.md"}`)},
		),
		FinishReason: FinishReason{Reason: "tool_calls"},
	}
	mock := &mockAdapter{
		name:     "test",
		response: full,
		events: []StreamEvent{
			{Type: StreamStart},
			{Type: TextDelta, Delta: "Read"},
			{Type: TextDelta, Delta: "ing."},
			{Type: ToolCallStart, ToolCallID: "c1", ToolName: "file_read", Delta: `{"path":`},
			{Type: ToolCallDelta, ToolCallID: "c1", Delta: `"README.md"}`},
			{Type: StreamFinish, FinishReason: &FinishReason{Reason: "tool_calls"}},
		},
	}
	client := NewClient(WithProvider("test", mock))

	blocking, err := client.Send(context.Background(), Request{Messages: []Message{UserMessage("Read README.md")}}, nil)
	require.NoError(t, err)
	var deltas int
	streamed, err := client.Send(context.Background(), Request{Messages: []Message{UserMessage("Read README.md")}, Stream: true}, func(ev StreamEvent) {
		if ev.Type == TextDelta {
			deltas++
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 2, deltas)
	assert.Equal(t, blocking.Text(), streamed.Text())

	sc, bc := streamed.ToolCallsFromResponse(), blocking.ToolCallsFromResponse()
	require.Len(t, sc, 1)
	require.Len(t, bc, 1)
	assert.Equal(t, bc[0].ID, sc[0].ID)
	assert.Equal(t, bc[0].Name, sc[0].Name)
	assert.JSONEq(t, string(bc[0].Arguments), string(sc[0].Arguments))
}

func TestClientSendIncompleteStream(t *testing.T) {
	mock := &mockAdapter{
		name:   "test",
		events: []StreamEvent{{Type: StreamStart}, {Type: TextDelta, Delta: "half"}},
	}
	client := NewClient(WithProvider("test", mock))

	_, err := client.Send(context.Background(), Request{Stream: true}, nil)
	var inc *IncompleteStreamError
	assert.ErrorAs(t, err, &inc)
}

func TestClientSendInlineToolCalls(t *testing.T) {
	text := "Sure.\n<tool_call>\n{\"name\": \"shell\", \"arguments\": {\"command\": \"date\"}}\n</tool_call>"
	client := NewClient(WithProvider("test", newMockAdapter("test", text)))

	resp, err := client.Send(context.Background(), Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Sure.", resp.Text(), "surrounding text remains")

	calls := resp.ToolCallsFromResponse()
	require.Len(t, calls, 1)
	assert.Equal(t, "shell", calls[0].Name)
	assert.NotEmpty(t, calls[0].ID)
	assert.Equal(t, `{"command": "date"}`, string(calls[0].Arguments))
	assert.Equal(t, ResponseToolCalls, resp.Kind())
}

func TestClientSendEmptyResponse(t *testing.T) {
	client := NewClient(WithProvider("test", newMockAdapter("test", "   ")))

	_, err := client.Send(context.Background(), Request{}, nil)
	assert.Equal(t, KindMalformedResponse, Kind(err), "got %v", err)
}

func TestClientSendAssignsMissingCallIDs(t *testing.T) {
	mock := &mockAdapter{name: "test", response: &Response{
		Message: AssistantToolCallMessage("", ToolCallData{Name: "shell", Arguments: json.RawMessage(`{"command":"ls"}`)}),
	}}
	client := NewClient(WithProvider("test", mock))

	resp, err := client.Send(context.Background(), Request{}, nil)
	require.NoError(t, err)
	calls := resp.ToolCallsFromResponse()
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ID, "expected an assigned call id")
	assert.Equal(t, "tool_calls", resp.FinishReason.Reason)
}

func TestGenerateText(t *testing.T) {
	client := NewClient(WithProvider("test", newMockAdapter("test", "  summary  ")))

	got, err := GenerateText(context.Background(), client, GenerateOptions{System: "sum", Prompt: "long text"})
	require.NoError(t, err)
	assert.Equal(t, "summary", got)

	_, err = GenerateText(context.Background(), client, GenerateOptions{})
	assert.Error(t, err, "expected error for empty prompt")
}
