package unifiedllm

import (
	"context"
	"strings"
)

// GenerateOptions configures a single-shot text generation.
type GenerateOptions struct {
	Model       string
	Provider    string
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   *int
}

// GenerateText runs one blocking, tool-less completion and returns its
// text. It is used for auxiliary calls such as summarization, where no tool
// loop is wanted.
func GenerateText(ctx context.Context, client *Client, opts GenerateOptions) (string, error) {
	if client == nil {
		return "", &ConfigurationError{SDKError: SDKError{Message: "generate: nil client"}}
	}
	if opts.Prompt == "" {
		return "", &ConfigurationError{SDKError: SDKError{Message: "generate: empty prompt"}}
	}
	var messages []Message
	if opts.System != "" {
		messages = append(messages, SystemMessage(opts.System))
	}
	messages = append(messages, UserMessage(opts.Prompt))

	resp, err := client.Complete(ctx, Request{
		Model:       opts.Model,
		Provider:    opts.Provider,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", NewMalformedResponseError(resp.Provider, "empty response from model")
	}
	return text, nil
}
