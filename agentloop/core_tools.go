package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/dinoe/memory"
)

// MemoryStore is the memory collaborator: append-only entries with keyword
// recall. *memory.Store satisfies it.
type MemoryStore interface {
	Append(e memory.Entry) (memory.Entry, error)
	Recall(query string, limit int) ([]memory.Hit, error)
}

// CoreToolOptions tunes the built-in tools.
type CoreToolOptions struct {
	// ShellTimeout bounds a shell command when the call gives no timeout_ms.
	ShellTimeout time.Duration
	// MaxShellTimeout caps timeout_ms.
	MaxShellTimeout time.Duration
	// MemoryReadLimit is the default number of memory_read hits.
	MemoryReadLimit int
}

func DefaultCoreToolOptions() CoreToolOptions {
	return CoreToolOptions{
		ShellTimeout:    60 * time.Second,
		MaxShellTimeout: 10 * time.Minute,
		MemoryReadLimit: 10,
	}
}

// RegisterCoreTools registers file_read, file_write and shell, plus
// memory_read and memory_write when mem is non-nil.
func RegisterCoreTools(reg *ToolRegistry, env ExecutionEnvironment, mem MemoryStore, opts CoreToolOptions) {
	def := DefaultCoreToolOptions()
	if opts.ShellTimeout <= 0 {
		opts.ShellTimeout = def.ShellTimeout
	}
	if opts.MaxShellTimeout < opts.ShellTimeout {
		opts.MaxShellTimeout = max(def.MaxShellTimeout, opts.ShellTimeout)
	}
	if opts.MemoryReadLimit <= 0 {
		opts.MemoryReadLimit = def.MemoryReadLimit
	}

	reg.Register(fileReadTool(env))
	reg.Register(fileWriteTool(env))
	reg.Register(shellTool(env, opts))
	if mem != nil {
		reg.Register(memoryReadTool(mem, opts.MemoryReadLimit))
		reg.Register(memoryWriteTool(mem))
	}
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func fileReadTool(env ExecutionEnvironment) Tool {
	return Tool{
		Name:        "file_read",
		Description: "Read a UTF-8 text file. Relative paths resolve against the workspace.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": stringProp("Path of the file to read."),
			},
			"required": []string{"path"},
		},
		ParallelSafe: true,
		Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, err := requireString("file_read", args, "path")
			if err != nil {
				return "", err
			}
			content, err := env.ReadFile(path)
			if errors.Is(err, ErrNotUTF8) {
				return "", newToolError(ToolNotUTF8, "file_read", fmt.Sprintf("%s is not a UTF-8 text file", path), err)
			}
			if err != nil {
				return "", toolErrorFromFS("file_read", path, err)
			}
			return content, nil
		},
	}
}

func fileWriteTool(env ExecutionEnvironment) Tool {
	return Tool{
		Name:        "file_write",
		Description: "Create or overwrite a file with the given content. Parent directories are created as needed.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":    stringProp("Path of the file to write."),
				"content": stringProp("Full content of the file."),
			},
			"required": []string{"path", "content"},
		},
		Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, err := requireString("file_write", args, "path")
			if err != nil {
				return "", err
			}
			content, err := requireString("file_write", args, "content")
			if err != nil {
				return "", err
			}
			n, err := env.WriteFile(path, content)
			if err != nil {
				return "", toolErrorFromFS("file_write", path, err)
			}
			return fmt.Sprintf("File written successfully (%d bytes to %s)", n, path), nil
		},
	}
}

func shellTool(env ExecutionEnvironment, opts CoreToolOptions) Tool {
	return Tool{
		Name:        "shell",
		Description: "Run a shell command in the workspace directory. Returns combined stdout and stderr.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": stringProp("The command to run."),
				"timeout_ms": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Timeout in milliseconds. Default %d.", opts.ShellTimeout.Milliseconds()),
				},
			},
			"required": []string{"command"},
		},
		Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
			command, err := requireString("shell", args, "command")
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(command) == "" {
				return "", newToolError(ToolInvalidArguments, "shell", "command is empty", nil)
			}
			timeout := opts.ShellTimeout
			if ms, ok := GetIntArg(args, "timeout_ms"); ok && ms > 0 {
				timeout = min(time.Duration(ms)*time.Millisecond, opts.MaxShellTimeout)
			}

			res, err := env.ExecCommand(ctx, command, timeout)
			if err != nil {
				return "", newToolError(ToolSpawnError, "shell", err.Error(), err)
			}
			if res.TimedOut {
				msg := fmt.Sprintf("command timed out after %dms", timeout.Milliseconds())
				if res.Output != "" {
					msg += "\n" + res.Output
				}
				return "", newToolError(ToolTimeout, "shell", msg, nil)
			}
			out := res.Output
			if res.ExitCode != 0 {
				out = strings.TrimRight(out, "\n") + fmt.Sprintf("\n[Exit code: %d]", res.ExitCode)
			}
			return out, nil
		},
	}
}

func memoryReadTool(mem MemoryStore, defaultLimit int) Tool {
	return Tool{
		Name:        "memory_read",
		Description: "Search long-term memory by keywords. Returns the best matching entries.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": stringProp("Keywords to search for."),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum number of results. Default %d.", defaultLimit),
				},
			},
			"required": []string{"query"},
		},
		ParallelSafe: true,
		Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, err := requireString("memory_read", args, "query")
			if err != nil {
				return "", err
			}
			limit := defaultLimit
			if n, ok := GetIntArg(args, "limit"); ok && n > 0 {
				limit = n
			}
			hits, err := mem.Recall(query, limit)
			if err != nil {
				return "", newToolError(ToolExecutionFailed, "memory_read", err.Error(), err)
			}
			if len(hits) == 0 {
				return "No memories found matching the query.", nil
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d memories:\n", len(hits))
			for _, h := range hits {
				fmt.Fprintf(&sb, "- %s (score: %.2f)\n", h.Content, h.Score)
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	}
}

func memoryWriteTool(mem MemoryStore) Tool {
	return Tool{
		Name:        "memory_write",
		Description: "Store a fact in long-term memory. Category is core (default), daily, or a custom name.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"content":  stringProp("The text to remember."),
				"key":      stringProp("Optional identifier for the entry."),
				"category": stringProp("core, daily or a custom category."),
			},
			"required": []string{"content"},
		},
		Run: func(ctx context.Context, args map[string]interface{}) (string, error) {
			content, err := requireString("memory_write", args, "content")
			if err != nil {
				return "", err
			}
			key, _ := GetStringArg(args, "key")
			category, _ := GetStringArg(args, "category")
			stored, err := mem.Append(memory.Entry{
				Key:      key,
				Content:  content,
				Category: memory.ParseCategory(category),
			})
			if err != nil {
				return "", newToolError(ToolExecutionFailed, "memory_write", err.Error(), err)
			}
			return "Stored memory with key: " + stored.Key, nil
		},
	}
}
