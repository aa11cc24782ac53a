package unifiedllm

import (
	"context"
	"encoding/json"
	"strings"
)

// StreamAccumulator merges stream fragments into one Response. Text deltas
// are concatenated; argument fragments are concatenated per call id in
// arrival order; calls keep the order in which they were first announced.
// Nothing is readable until the terminal marker has been added.
type StreamAccumulator struct {
	provider string
	id       string
	model    string
	text     strings.Builder
	order    []string
	names    map[string]string
	args     map[string]*strings.Builder
	finish   *FinishReason
	usage    Usage
	err      error
}

// NewStreamAccumulator creates an accumulator for fragments from provider.
func NewStreamAccumulator(provider string) *StreamAccumulator {
	return &StreamAccumulator{
		provider: provider,
		names:    make(map[string]string),
		args:     make(map[string]*strings.Builder),
	}
}

// Add folds one fragment into the accumulator. Fragments after the terminal
// marker or after an error fragment are ignored.
func (a *StreamAccumulator) Add(ev StreamEvent) {
	if a.finish != nil || a.err != nil {
		return
	}
	if ev.Model != "" {
		a.model = ev.Model
	}
	if ev.ResponseID != "" {
		a.id = ev.ResponseID
	}
	switch ev.Type {
	case TextDelta:
		a.text.WriteString(ev.Delta)
	case ToolCallStart:
		a.call(ev.ToolCallID)
		if ev.ToolName != "" {
			a.names[ev.ToolCallID] = ev.ToolName
		}
		a.args[ev.ToolCallID].WriteString(ev.Delta)
	case ToolCallDelta:
		a.call(ev.ToolCallID).WriteString(ev.Delta)
		if ev.ToolName != "" && a.names[ev.ToolCallID] == "" {
			a.names[ev.ToolCallID] = ev.ToolName
		}
	case StreamFinish:
		fr := FinishReason{Reason: "stop"}
		if ev.FinishReason != nil {
			fr = *ev.FinishReason
		}
		a.finish = &fr
		if ev.Usage != nil {
			a.usage = *ev.Usage
		}
	case StreamError:
		a.err = ev.Error
		if a.err == nil {
			a.err = NewMalformedResponseError(a.provider, "stream reported an error without detail")
		}
	}
}

func (a *StreamAccumulator) call(id string) *strings.Builder {
	b, ok := a.args[id]
	if !ok {
		b = &strings.Builder{}
		a.args[id] = b
		a.order = append(a.order, id)
	}
	return b
}

// Done reports whether the terminal marker or an error has been seen.
func (a *StreamAccumulator) Done() bool {
	return a.finish != nil || a.err != nil
}

// Response returns the merged response. It fails with the carried error if
// the stream reported one, or with IncompleteStreamError if no terminal
// marker arrived.
func (a *StreamAccumulator) Response() (*Response, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.finish == nil {
		return nil, NewIncompleteStreamError(a.provider, nil)
	}
	msg := Message{Role: RoleAssistant}
	if a.text.Len() > 0 {
		msg.Content = append(msg.Content, TextPart(a.text.String()))
	}
	for _, id := range a.order {
		msg.Content = append(msg.Content, ToolCallPart(id, a.names[id], json.RawMessage(a.args[id].String())))
	}
	return &Response{
		ID:           a.id,
		Model:        a.model,
		Provider:     a.provider,
		Message:      msg,
		FinishReason: *a.finish,
		Usage:        a.usage,
	}, nil
}

// Collect drains a fragment channel into one Response, calling onEvent for
// each fragment as it arrives. It returns as soon as the terminal marker is
// seen; a channel that closes first yields IncompleteStreamError.
func Collect(ctx context.Context, provider string, events <-chan StreamEvent, onEvent func(StreamEvent)) (*Response, error) {
	acc := NewStreamAccumulator(provider)
	for {
		select {
		case <-ctx.Done():
			return nil, &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctx.Err()}}
		case ev, ok := <-events:
			if !ok {
				return acc.Response()
			}
			if onEvent != nil {
				onEvent(ev)
			}
			acc.Add(ev)
			if acc.Done() {
				return acc.Response()
			}
		}
	}
}

// ResponseEvents renders a complete response as the fragment sequence a
// streaming provider would have produced for it.
func ResponseEvents(resp *Response) []StreamEvent {
	events := []StreamEvent{{Type: StreamStart, Model: resp.Model, ResponseID: resp.ID}}
	if text := resp.Text(); text != "" {
		events = append(events, StreamEvent{Type: TextDelta, Delta: text})
	}
	for _, tc := range resp.Message.ToolCalls() {
		events = append(events, StreamEvent{Type: ToolCallStart, ToolCallID: tc.ID, ToolName: tc.Name})
		if len(tc.Arguments) > 0 {
			events = append(events, StreamEvent{Type: ToolCallDelta, ToolCallID: tc.ID, Delta: string(tc.Arguments)})
		}
	}
	fr := resp.FinishReason
	usage := resp.Usage
	events = append(events, StreamEvent{Type: StreamFinish, FinishReason: &fr, Usage: &usage})
	return events
}

// sendEvent delivers ev unless ctx is cancelled first.
func sendEvent(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
