// Package unifiedllm presents chat model backends behind one
// provider-agnostic interface.
//
// # Architecture
//
// The package is layered:
//
//   - Provider contract: the ProviderAdapter interface and the
//     normalized Request, Response and StreamEvent types
//   - Provider variants: OpenAIAdapter (OpenAI, OpenRouter, Z.ai GLM),
//     AnthropicAdapter and GollmAdapter (Ollama), chosen by NewAdapter
//   - Utilities: retry policy, error taxonomy, stream merging, inline
//     tool-call parsing
//   - Client: provider routing, middleware and Send, which performs one
//     normalized round-trip in either streaming or blocking mode
//
// # Quick Start
//
//	client, err := unifiedllm.NewClientFromConfig(unifiedllm.ProviderConfig{
//	    Kind:  "openai",
//	    Model: "gpt-4o",
//	})
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Send(ctx, unifiedllm.Request{
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	    Stream:   true,
//	}, func(ev unifiedllm.StreamEvent) {
//	    if ev.Type == unifiedllm.TextDelta {
//	        fmt.Print(ev.Delta)
//	    }
//	})
//
// # Streaming
//
// A stream is an ordered channel of fragments ending in exactly one
// StreamFinish. StreamAccumulator concatenates text deltas and the argument
// fragments of each tool call (keyed by call id) and refuses to produce a
// Response until the terminal marker has arrived. Collect drives an
// accumulator from a channel.
//
// # Errors
//
// Provider failures are ProviderError values tagged with a
// ProviderErrorKind (network, auth, rate_limit, malformed_response,
// incomplete_stream, ...). Tool calls whose merged arguments are not a JSON
// object carry a MalformedToolArgumentsError instead of failing the request.
package unifiedllm
