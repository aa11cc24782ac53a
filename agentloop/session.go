package agentloop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/dinoe/memory"
	"github.com/martinemde/dinoe/unifiedllm"
)

// Sender performs one normalized provider round-trip. *unifiedllm.Client
// satisfies it.
type Sender interface {
	Send(ctx context.Context, req unifiedllm.Request, onEvent func(unifiedllm.StreamEvent)) (*unifiedllm.Response, error)
}

// SessionConfig is the immutable budget and request shape of a session.
type SessionConfig struct {
	Model       string   `json:"model"`
	Provider    string   `json:"provider,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stream      bool     `json:"stream"`

	MaxIterations int `json:"max_iterations"` // provider round-trips per user turn
	MaxHistory    int `json:"max_history"`    // 0 disables compaction
	KeepRecent    int `json:"keep_recent"`
	LoopThreshold int `json:"loop_threshold"`

	ParallelTools bool                   `json:"parallel_tools"`
	OutputLimits  map[string]OutputLimit `json:"-"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Stream:        true,
		MaxIterations: 20,
		MaxHistory:    50,
		KeepRecent:    DefaultKeepRecent,
		LoopThreshold: DefaultLoopThreshold,
	}
}

// Termination says how a turn ended.
type Termination string

const (
	TerminationCompleted      Termination = "completed"
	TerminationIterationLimit Termination = "iteration_limit"
)

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	Text        string
	Rounds      int
	ToolCalls   int
	Usage       unifiedllm.Usage
	Termination Termination

	// Limit is set when the iteration budget ran out. It is informational;
	// Text still holds the best available answer.
	Limit *AgentError
}

// Session owns one conversation and drives the request, tool execution and
// feedback cycle. Only one turn may run at a time.
type Session struct {
	id        string
	client    Sender
	builder   *ContextBuilder
	tools     *ToolRegistry
	memory    MemoryStore
	summarize Summarizer
	config    SessionConfig
	emitter   *EventEmitter
	logger    *slog.Logger
	guard     *LoopGuard

	running atomic.Bool
	mu      sync.Mutex
	conv    Conversation
	rounds  int
}

type SessionOption func(*Session)

// WithMemory records every completed turn in the daily memory log.
func WithMemory(m MemoryStore) SessionOption {
	return func(s *Session) { s.memory = m }
}

// WithSummarizer overrides how compacted history is condensed. nil keeps a
// truncated transcript instead.
func WithSummarizer(fn Summarizer) SessionOption {
	return func(s *Session) { s.summarize = fn }
}

func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

func WithEventBuffer(size int) SessionOption {
	return func(s *Session) { s.emitter = NewEventEmitter(s.id, size) }
}

// NewSession validates the budget and wires the collaborators. A nil
// registry means no tools; a nil builder uses a bare one rooted at the
// current directory.
func NewSession(client Sender, builder *ContextBuilder, registry *ToolRegistry, cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	if client == nil {
		return nil, errors.New("agentloop: nil provider client")
	}
	if cfg.MaxIterations < 1 {
		return nil, &AgentError{Kind: InvalidBudget, Message: fmt.Sprintf("max iterations must be at least 1, got %d", cfg.MaxIterations)}
	}
	if cfg.MaxHistory < 0 {
		return nil, &AgentError{Kind: InvalidBudget, Message: fmt.Sprintf("max history must not be negative, got %d", cfg.MaxHistory)}
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	if registry == nil {
		registry = NewToolRegistry()
	}
	if builder == nil {
		builder = NewContextBuilder(".", WithContextTools(registry))
	}

	s := &Session{
		id:      uuid.New().String(),
		client:  client,
		builder: builder,
		tools:   registry,
		config:  cfg,
		logger:  slog.Default(),
		guard:   NewLoopGuard(cfg.LoopThreshold),
	}
	if c, ok := client.(*unifiedllm.Client); ok {
		s.summarize = ClientSummarizer(c, cfg.Model, cfg.Provider)
	}
	s.emitter = NewEventEmitter(s.id, 256)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id)

	s.emitter.Emit(EventSessionStart, map[string]interface{}{
		"model":    cfg.Model,
		"provider": cfg.Provider,
	})
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() SessionConfig { return s.config }

// History returns a copy of the conversation.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Turns()
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Close ends the session and closes the event channel.
func (s *Session) Close() {
	s.emitter.Emit(EventSessionEnd, nil)
	s.emitter.Close()
}

// Run processes one user message and returns the final text.
func (s *Session) Run(ctx context.Context, message string) (string, error) {
	res, err := s.RunTurn(ctx, message)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// RunTurn processes one user message through as many provider rounds as the
// budget allows. Tool failures are fed back to the model; only provider
// failures, cancellation and concurrent use are returned as errors.
func (s *Session) RunTurn(ctx context.Context, message string) (*TurnResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, &AgentError{Kind: TurnInProgress, Message: "a turn is already running on this session"}
	}
	defer s.running.Store(false)

	s.mu.Lock()
	turnStart := s.conv.Append(NewUserTurn(message))
	s.mu.Unlock()
	s.emitter.Emit(EventUserInput, map[string]interface{}{"content": message})
	s.guard.Reset()

	defs := s.tools.Definitions()
	result := &TurnResult{}
	var lastText string

	for round := 1; round <= s.config.MaxIterations; round++ {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(&AgentError{Kind: Aborted, Err: err})
		}
		turnStart = s.maybeCompact(ctx, turnStart)

		req := unifiedllm.Request{
			Model:       s.config.Model,
			Provider:    s.config.Provider,
			Messages:    s.builder.Build(ctx, message, s.History()),
			ToolDefs:    defs,
			Temperature: s.config.Temperature,
			MaxTokens:   s.config.MaxTokens,
			Stream:      s.config.Stream,
		}
		s.logger.Debug("provider round", "round", round, "messages", len(req.Messages), "stream", req.Stream)

		filter := unifiedllm.NewTextToolFilter()
		resp, err := s.client.Send(ctx, req, func(ev unifiedllm.StreamEvent) {
			if ev.Type == unifiedllm.TextDelta {
				s.emitDelta(filter.Push(ev.Delta))
			}
		})
		result.Rounds = round
		if err != nil {
			return nil, s.fail(providerFailure(ctx, err))
		}
		s.emitDelta(filter.Flush())
		result.Usage = result.Usage.Add(resp.Usage)
		s.checkContextUsage(resp.Usage)

		text := resp.Text()
		calls := resp.ToolCallsFromResponse()
		s.emitter.Emit(EventAssistantTextEnd, map[string]interface{}{
			"text":       text,
			"tool_calls": len(calls),
			"round":      round,
		})

		if len(calls) == 0 {
			s.finish(message, text)
			result.Text = text
			result.Termination = TerminationCompleted
			return result, nil
		}
		if strings.TrimSpace(text) != "" {
			lastText = text
		}

		calls = uniqueCallIDs(calls)
		results := s.dispatch(ctx, calls)
		s.appendRound(text, calls, results)
		result.ToolCalls += len(calls)
	}

	limit := &AgentError{
		Kind:    IterationLimitReached,
		Message: fmt.Sprintf("no final answer after %d rounds", s.config.MaxIterations),
	}
	s.logger.Warn("iteration limit reached", "rounds", s.config.MaxIterations, "tool_calls", result.ToolCalls)
	s.emitter.Emit(EventTurnLimit, map[string]interface{}{"rounds": s.config.MaxIterations})

	text := lastText
	if text == "" {
		text = fmt.Sprintf("iteration limit reached after %d rounds without a final answer", s.config.MaxIterations)
	}
	s.finish(message, text)
	result.Text = text
	result.Termination = TerminationIterationLimit
	result.Limit = limit
	return result, nil
}

func providerFailure(ctx context.Context, err error) *AgentError {
	var abort *unifiedllm.AbortError
	if errors.As(err, &abort) || ctx.Err() != nil {
		return &AgentError{Kind: Aborted, Err: err}
	}
	return &AgentError{Kind: ProviderFailure, Err: err}
}

func (s *Session) fail(err *AgentError) *AgentError {
	s.logger.Error("turn failed", "kind", err.Kind, "error", err)
	s.emitter.Emit(EventError, map[string]interface{}{
		"kind":  string(err.Kind),
		"error": err.Error(),
	})
	return err
}

// emitDelta forwards displayable streamed text. Inline tool-call blocks
// have already been filtered out.
func (s *Session) emitDelta(text string) {
	if text != "" {
		s.emitter.Emit(EventAssistantTextDelta, map[string]interface{}{"delta": text})
	}
}

// finish appends the final reply and reports the turn to memory.
func (s *Session) finish(userMessage, reply string) {
	s.mu.Lock()
	s.conv.Append(NewAssistantTurn(reply))
	s.mu.Unlock()
	s.remember(userMessage, reply)
}

// appendRound stores each call immediately followed by its result.
func (s *Session) appendRound(text string, calls []unifiedllm.ToolCall, results []ToolResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds++
	turns := make([]Turn, 0, 2*len(calls))
	for i, c := range calls {
		accompanying := ""
		if i == 0 {
			accompanying = text
		}
		data := unifiedllm.ToolCallData{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
		turns = append(turns, NewToolCallTurn(s.rounds, accompanying, data), NewToolResultTurn(s.rounds, results[i]))
	}
	s.conv.Append(turns...)
}

// uniqueCallIDs reassigns duplicated call ids so every result pairs with
// exactly one call.
func uniqueCallIDs(calls []unifiedllm.ToolCall) []unifiedllm.ToolCall {
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		if calls[i].ID == "" || seen[calls[i].ID] {
			calls[i].ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
		seen[calls[i].ID] = true
	}
	return calls
}

func loopMessage(name string, threshold int) string {
	return fmt.Sprintf("Loop detected: %s was already called %d times with identical arguments in this turn. "+
		"The call was not executed. Try a different approach or answer with what you have.", name, threshold)
}

// dispatch answers every call in request order. Malformed and looping calls
// are short-circuited before anything runs.
func (s *Session) dispatch(ctx context.Context, calls []unifiedllm.ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var runnable []int
	for i, c := range calls {
		s.emitter.Emit(EventToolCallStart, map[string]interface{}{
			"tool_name": c.Name,
			"call_id":   c.ID,
			"arguments": string(c.Arguments),
		})
		switch {
		case c.ParseError != nil:
			results[i] = s.shortCircuit(c, c.ParseError.Error())
		case s.guard.Observe(c.Name, Fingerprint(c.Arguments)):
			s.logger.Warn("tool loop detected", "tool", c.Name, "call_id", c.ID)
			s.emitter.Emit(EventLoopDetected, map[string]interface{}{
				"tool_name": c.Name,
				"call_id":   c.ID,
				"threshold": s.guard.Threshold(),
			})
			results[i] = s.shortCircuit(c, loopMessage(c.Name, s.guard.Threshold()))
		default:
			runnable = append(runnable, i)
		}
	}

	for k := 0; k < len(runnable); {
		i := runnable[k]
		if !s.config.ParallelTools || !s.parallelSafe(calls[i].Name) {
			results[i] = s.runTool(ctx, calls[i])
			k++
			continue
		}
		end := k
		for end < len(runnable) && s.parallelSafe(calls[runnable[end]].Name) {
			end++
		}
		var wg sync.WaitGroup
		for _, j := range runnable[k:end] {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = s.runTool(ctx, calls[idx])
			}(j)
		}
		wg.Wait()
		k = end
	}
	return results
}

func (s *Session) parallelSafe(name string) bool {
	t := s.tools.Get(name)
	return t != nil && t.ParallelSafe
}

func (s *Session) shortCircuit(c unifiedllm.ToolCall, msg string) ToolResult {
	res := ToolResult{CallID: c.ID, Status: StatusFailure, Payload: msg}
	s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
		"call_id": c.ID,
		"status":  string(res.Status),
		"error":   msg,
	})
	return res
}

// runTool executes one call and truncates its payload, failure or success,
// with the tool's output limit. The event carries the untruncated text.
func (s *Session) runTool(ctx context.Context, c unifiedllm.ToolCall) ToolResult {
	start := time.Now()
	out, err := s.tools.Execute(ctx, c.Name, c.Arguments)
	elapsed := time.Since(start)

	if err != nil {
		var te *ToolError
		if !errors.As(err, &te) {
			err = newToolError(ToolExecutionFailed, c.Name, err.Error(), err)
		}
		s.logger.Info("tool failed", "tool", c.Name, "call_id", c.ID, "kind", ToolErrorKindOf(err), "duration", elapsed)
		s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"call_id":     c.ID,
			"status":      string(StatusFailure),
			"error":       err.Error(),
			"duration_ms": elapsed.Milliseconds(),
		})
		return ToolResult{CallID: c.ID, Status: StatusFailure, Payload: TruncateToolOutput(c.Name, err.Error(), s.config.OutputLimits)}
	}

	s.logger.Debug("tool succeeded", "tool", c.Name, "call_id", c.ID, "bytes", len(out), "duration", elapsed)
	s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
		"call_id":     c.ID,
		"status":      string(StatusSuccess),
		"output":      out,
		"duration_ms": elapsed.Milliseconds(),
	})
	return ToolResult{CallID: c.ID, Status: StatusSuccess, Payload: TruncateToolOutput(c.Name, out, s.config.OutputLimits)}
}

// maybeCompact folds old turns into a summary when the history is over
// budget and returns the new index of the current user turn.
func (s *Session) maybeCompact(ctx context.Context, turnStart int) int {
	turns := s.History()
	cut := compactionCut(turns, s.config.MaxHistory, s.config.KeepRecent, turnStart)
	if cut == 0 {
		return turnStart
	}
	compacted, fallback := compactTurns(ctx, turns, cut, s.summarize)

	s.mu.Lock()
	s.conv.replace(compacted)
	s.mu.Unlock()

	s.logger.Info("history compacted", "removed", cut, "remaining", len(compacted), "fallback", fallback)
	s.emitter.Emit(EventCompaction, map[string]interface{}{
		"removed":   cut,
		"remaining": len(compacted),
		"fallback":  fallback,
	})
	return turnStart - cut + 1
}

// remember appends both sides of a finished turn to the daily log. Memory
// failures never fail the turn.
func (s *Session) remember(userMessage, reply string) {
	if s.memory == nil {
		return
	}
	for _, m := range []struct{ role, content string }{
		{"user", userMessage},
		{"assistant", reply},
	} {
		if strings.TrimSpace(m.content) == "" {
			continue
		}
		_, err := s.memory.Append(memory.Entry{
			Key:      messageKey(m.role, m.content),
			Content:  m.content,
			Category: memory.CategoryDaily,
		})
		if err != nil {
			s.logger.Warn("memory append failed", "role", m.role, "error", err)
			s.emitter.Emit(EventWarning, map[string]interface{}{"message": "memory append failed: " + err.Error()})
		}
	}
}

func messageKey(role, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("msg_%s_%s", role, hex.EncodeToString(sum[:4]))
}

// checkContextUsage warns when the last prompt used over 80% of the
// model's context window.
func (s *Session) checkContextUsage(usage unifiedllm.Usage) {
	info := unifiedllm.GetModelInfo(s.config.Model)
	if info == nil || info.ContextWindow == 0 || usage.InputTokens == 0 {
		return
	}
	if usage.InputTokens*10 > info.ContextWindow*8 {
		pct := usage.InputTokens * 100 / info.ContextWindow
		s.emitter.Emit(EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("context usage at ~%d%% of the %s window", pct, info.ID),
		})
	}
}
