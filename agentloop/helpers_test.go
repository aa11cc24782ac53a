package agentloop

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/martinemde/dinoe/unifiedllm"
)

// step is one scripted provider reply.
type step struct {
	resp   *unifiedllm.Response
	err    error
	deltas []string
}

// scriptedSender replays steps in order and repeats the last one forever.
type scriptedSender struct {
	mu       sync.Mutex
	steps    []step
	requests []unifiedllm.Request

	// block, when set, is waited on before replying; entered is closed on
	// the first call.
	block   chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newScripted(steps ...step) *scriptedSender {
	return &scriptedSender{steps: steps}
}

func (s *scriptedSender) Send(ctx context.Context, req unifiedllm.Request, onEvent func(unifiedllm.StreamEvent)) (*unifiedllm.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	idx := len(s.requests) - 1
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	st := s.steps[idx]
	s.mu.Unlock()

	if s.entered != nil {
		s.once.Do(func() { close(s.entered) })
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, &unifiedllm.AbortError{SDKError: unifiedllm.SDKError{Message: "aborted", Cause: ctx.Err()}}
		}
	}
	if st.err != nil {
		return nil, st.err
	}
	if req.Stream && onEvent != nil {
		for _, d := range st.deltas {
			onEvent(unifiedllm.StreamEvent{Type: unifiedllm.TextDelta, Delta: d})
		}
	}
	return st.resp, nil
}

func (s *scriptedSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedSender) request(i int) unifiedllm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func textReply(text string) step {
	return step{resp: &unifiedllm.Response{
		Provider:     "test",
		Message:      unifiedllm.AssistantMessage(text),
		FinishReason: unifiedllm.FinishReason{Reason: "stop"},
	}}
}

func callReply(text string, calls ...unifiedllm.ToolCallData) step {
	return step{resp: &unifiedllm.Response{
		Provider:     "test",
		Message:      unifiedllm.AssistantToolCallMessage(text, calls...),
		FinishReason: unifiedllm.FinishReason{Reason: "tool_calls"},
	}}
}

func call(id, name, args string) unifiedllm.ToolCallData {
	return unifiedllm.ToolCallData{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// countingTool returns a tool that records how often it ran.
func countingTool(name string, n *int, mu *sync.Mutex) Tool {
	return Tool{
		Name:        name,
		Description: "test tool",
		Parameters:  map[string]interface{}{"type": "object"},
		Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			*n++
			return "ran", nil
		},
	}
}

// drainEvents collects whatever is buffered on the channel without blocking.
func drainEvents(ch <-chan SessionEvent) []SessionEvent {
	var out []SessionEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// pairingViolations checks that every tool_call turn is directly followed by the
// tool_result with the same id, and no result stands alone.
func pairingViolations(turns []Turn) []string {
	var bad []string
	for i, t := range turns {
		switch t.Kind {
		case TurnToolCall:
			if i+1 >= len(turns) || turns[i+1].Kind != TurnToolResult || turns[i+1].Result.CallID != t.Call.ID {
				bad = append(bad, "call "+t.Call.ID+" not followed by its result")
			}
		case TurnToolResult:
			if i == 0 || turns[i-1].Kind != TurnToolCall || turns[i-1].Call.ID != t.Result.CallID {
				bad = append(bad, "result "+t.Result.CallID+" not preceded by its call")
			}
		}
	}
	return bad
}
