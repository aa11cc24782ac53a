package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/martinemde/dinoe/unifiedllm"
)

// ToolFunc runs a tool with already-validated arguments and returns its
// text payload. Returned errors become failure results.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool pairs the schema shown to the model with its implementation.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}

	// ParallelSafe tools touch no shared mutable state and may run
	// concurrently with each other when parallel dispatch is enabled.
	ParallelSafe bool

	Run ToolFunc
}

// Definition returns the provider-facing schema.
func (t Tool) Definition() unifiedllm.ToolDefinition {
	return unifiedllm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]*Tool
	mu    sync.RWMutex
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = &tool
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered names in lexicographic order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the tool schema sorted by name.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute looks up a tool, validates the raw arguments against the
// declared required fields and runs it.
func (r *ToolRegistry) Execute(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	tool := r.Get(name)
	if tool == nil {
		return "", newToolError(ToolUnknown, name, fmt.Sprintf("unknown tool %q", name), nil)
	}
	args, err := ParseToolArguments(raw)
	if err != nil {
		return "", newToolError(ToolInvalidArguments, name, err.Error(), err)
	}
	for _, field := range requiredFields(tool.Parameters) {
		if _, ok := args[field]; !ok {
			return "", newToolError(ToolInvalidArguments, name, fmt.Sprintf("missing required argument %q", field), nil)
		}
	}
	if tool.Run == nil {
		return "", newToolError(ToolExecutionFailed, name, "tool has no implementation", nil)
	}
	return tool.Run(ctx, args)
}

func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ParseToolArguments unmarshals tool call arguments into a map. Empty
// input is an empty object; anything other than an object is an error.
func ParseToolArguments(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		return nil, fmt.Errorf("invalid tool arguments: expected a JSON object")
	}
	return args, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts an integer argument. JSON numbers decode as float64.
func GetIntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// requireString returns a string argument or an InvalidArguments error.
func requireString(tool string, args map[string]interface{}, key string) (string, error) {
	s, ok := GetStringArg(args, key)
	if !ok {
		return "", newToolError(ToolInvalidArguments, tool, fmt.Sprintf("argument %q must be a string", key), nil)
	}
	return s, nil
}
