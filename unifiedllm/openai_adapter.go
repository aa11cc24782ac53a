package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIAdapter speaks the OpenAI chat completions protocol. It serves
// OpenAI itself and the compatible endpoints of OpenRouter and Z.ai GLM.
type OpenAIAdapter struct {
	name   string
	client openai.Client
	model  string
}

// OpenAIAdapterOption configures an OpenAIAdapter.
type OpenAIAdapterOption func(*openAIAdapterConfig)

type openAIAdapterConfig struct {
	requestOpts []option.RequestOption
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) OpenAIAdapterOption {
	return func(c *openAIAdapterConfig) {
		c.requestOpts = append(c.requestOpts, option.WithHeader(key, value))
	}
}

// WithHTTPClient replaces the HTTP client used by the adapter.
func WithHTTPClient(hc *http.Client) OpenAIAdapterOption {
	return func(c *openAIAdapterConfig) {
		c.requestOpts = append(c.requestOpts, option.WithHTTPClient(hc))
	}
}

// NewOpenAIAdapter creates an adapter named name talking to baseURL.
func NewOpenAIAdapter(name, apiKey, baseURL, model string, opts ...OpenAIAdapterOption) *OpenAIAdapter {
	cfg := &openAIAdapterConfig{}
	for _, o := range opts {
		o(cfg)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		// Retries are handled by the client middleware.
		option.WithMaxRetries(0),
	}
	reqOpts = append(reqOpts, cfg.requestOpts...)
	return &OpenAIAdapter{
		name:   name,
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return a.name }

// Complete sends one blocking chat completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params := a.buildParams(req)
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.translateError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewMalformedResponseError(a.name, "response has no choices")
	}
	choice := resp.Choices[0]
	msg := Message{Role: RoleAssistant}
	if choice.Message.Content != "" {
		msg.Content = append(msg.Content, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.Content = append(msg.Content, ToolCallPart(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}
	return &Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Provider:     a.name,
		Message:      msg,
		FinishReason: mapOpenAIFinish(string(choice.FinishReason)),
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Stream opens a streaming chat completion. Chunks are translated into
// fragments keyed by tool call id; the terminal marker is emitted only if
// the server sent a finish reason.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params := a.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	ch := make(chan StreamEvent, 16)

	go func() {
		defer close(ch)
		defer stream.Close()

		if !sendEvent(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}
		ids := make(map[int64]string)
		var finish string
		var usage *Usage
		var model, respID string

		for stream.Next() {
			chunk := stream.Current()
			if model == "" {
				model, respID = chunk.Model, chunk.ID
			}
			if chunk.Usage.TotalTokens > 0 {
				usage = &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				if !sendEvent(ctx, ch, StreamEvent{Type: TextDelta, Delta: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				ev, ok := toolCallFragment(ids, tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
				if !ok {
					continue
				}
				if !sendEvent(ctx, ch, ev) {
					return
				}
			}
			if choice.FinishReason != "" {
				finish = string(choice.FinishReason)
			}
		}

		if err := stream.Err(); err != nil {
			sendEvent(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
			return
		}
		if finish == "" {
			// No terminal marker; the collector reports an incomplete stream.
			return
		}
		fr := mapOpenAIFinish(finish)
		sendEvent(ctx, ch, StreamEvent{Type: StreamFinish, FinishReason: &fr, Usage: usage, Model: model, ResponseID: respID})
	}()

	return ch, nil
}

// toolCallFragment maps one indexed tool call delta to a fragment keyed by
// call id. The first delta of an index announces the id; later deltas of the
// same index reuse it.
func toolCallFragment(ids map[int64]string, index int64, id, name, args string) (StreamEvent, bool) {
	if known, ok := ids[index]; ok {
		if args == "" && name == "" {
			return StreamEvent{}, false
		}
		return StreamEvent{Type: ToolCallDelta, ToolCallID: known, ToolName: name, Delta: args}, true
	}
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}
	ids[index] = id
	return StreamEvent{Type: ToolCallStart, ToolCallID: id, ToolName: name, Delta: args}, true
}

func (a *OpenAIAdapter) buildParams(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = a.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if len(req.ToolDefs) > 0 {
		params.Tools = convertOpenAITools(req.ToolDefs)
	}
	return params
}

func convertOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := msg.TextContent(); text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case RoleUser:
			out = append(out, openai.UserMessage(msg.TextContent()))
		case RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(msg.TextContent()))
				continue
			}
			params := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
			for i, tc := range calls {
				params[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: params}
			if text := msg.TextContent(); text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(text),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			if tr := msg.ToolResult(); tr != nil {
				out = append(out, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		}
	}
	return out
}

func convertOpenAITools(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(defs))
	for i, d := range defs {
		out[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(d.Parameters),
			},
		}
	}
	return out
}

func mapOpenAIFinish(raw string) FinishReason {
	switch raw {
	case "stop", "length", "tool_calls", "content_filter":
		return FinishReason{Reason: raw, Raw: raw}
	case "function_call":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

func (a *OpenAIAdapter) translateError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return ClassifyTransportError(a.name, err)
	}
	return ErrorFromStatusCode(apiErr.StatusCode, err.Error(), a.name, "", parseRetryAfter(apiErr.Response))
}

// parseRetryAfter reads a Retry-After header expressed in seconds.
func parseRetryAfter(resp *http.Response) *float64 {
	if resp == nil {
		return nil
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return nil
	}
	secs, err := strconv.ParseFloat(header, 64)
	if err != nil {
		return nil
	}
	return &secs
}
