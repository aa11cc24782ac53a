package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicAdapter speaks the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicAdapter creates an adapter; baseURL may be empty.
func NewAnthropicAdapter(apiKey, model, baseURL string) *AnthropicAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return ProviderAnthropic }

// Complete sends one blocking messages request.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, a.translateError(err)
	}
	msg := Message{Role: RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content = append(msg.Content, TextPart(block.Text))
		case "tool_use":
			msg.Content = append(msg.Content, ToolCallPart(block.ID, block.Name, json.RawMessage(block.Input)))
		}
	}
	return &Response{
		ID:           resp.ID,
		Model:        string(resp.Model),
		Provider:     ProviderAnthropic,
		Message:      msg,
		FinishReason: mapAnthropicStop(string(resp.StopReason)),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// Stream opens a streaming messages request. Text deltas are forwarded as
// they arrive; tool calls are emitted whole from the accumulated message
// once the server signals message_stop.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(req))
	ch := make(chan StreamEvent, 16)

	go func() {
		defer close(ch)
		defer stream.Close()

		if !sendEvent(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}
		var acc anthropic.Message
		stopped := false
		for stream.Next() {
			event := stream.Current()
			acc.Accumulate(event)

			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				if td := delta.Delta.AsTextDelta(); td.Type == "text_delta" && td.Text != "" {
					if !sendEvent(ctx, ch, StreamEvent{Type: TextDelta, Delta: td.Text}) {
						return
					}
				}
			case "message_stop":
				stopped = true
			}
		}
		if err := stream.Err(); err != nil {
			sendEvent(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
			return
		}
		if !stopped {
			return
		}
		for _, block := range acc.Content {
			if block.Type != "tool_use" {
				continue
			}
			ev := StreamEvent{Type: ToolCallStart, ToolCallID: block.ID, ToolName: block.Name, Delta: string(block.Input)}
			if !sendEvent(ctx, ch, ev) {
				return
			}
		}
		fr := mapAnthropicStop(string(acc.StopReason))
		usage := Usage{
			InputTokens:  int(acc.Usage.InputTokens),
			OutputTokens: int(acc.Usage.OutputTokens),
			TotalTokens:  int(acc.Usage.InputTokens + acc.Usage.OutputTokens),
		}
		sendEvent(ctx, ch, StreamEvent{Type: StreamFinish, FinishReason: &fr, Usage: &usage, Model: string(acc.Model), ResponseID: acc.ID})
	}()

	return ch, nil
}

func (a *AnthropicAdapter) buildParams(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := int64(anthropicDefaultMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}
	msgs, system := convertAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.ToolDefs) > 0 {
		params.Tools = convertAnthropicTools(req.ToolDefs)
	}
	return params
}

// convertAnthropicMessages splits out the system prompt and folds runs of
// tool results into a single user message, which the API requires.
func convertAnthropicMessages(messages []Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var out []anthropic.MessageParam
	var system []anthropic.TextBlockParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: pendingResults,
			})
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		if msg.Role == RoleTool {
			if tr := msg.ToolResult(); tr != nil {
				pendingResults = append(pendingResults, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			continue
		}
		flush()
		text := msg.TextContent()
		switch msg.Role {
		case RoleSystem:
			if text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case RoleUser:
			if text != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range msg.ToolCalls() {
				var input any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil || input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			}
		}
	}
	flush()
	return out, system
}

func convertAnthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(defs))
	for i, d := range defs {
		tool := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: d.Parameters["properties"],
				Required:   requiredFields(d.Parameters),
			},
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &tool}
	}
	return out
}

// requiredFields reads the "required" list of a JSON schema map, accepting
// both []string and decoded []interface{} forms.
func requiredFields(schema map[string]interface{}) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func mapAnthropicStop(raw string) FinishReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return FinishReason{Reason: "stop", Raw: raw}
	case "max_tokens":
		return FinishReason{Reason: "length", Raw: raw}
	case "tool_use":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

func (a *AnthropicAdapter) translateError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return ClassifyTransportError(ProviderAnthropic, err)
	}
	return ErrorFromStatusCode(apiErr.StatusCode, err.Error(), ProviderAnthropic, "", parseRetryAfter(apiErr.Response))
}
