package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Output     string `json:"output"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// ExecutionEnvironment abstracts where file and shell tools act.
type ExecutionEnvironment interface {
	ReadFile(path string) (string, error)
	WriteFile(path string, content string) (int, error)
	ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error)
	WorkingDirectory() string
	Platform() string
}

// ErrNotUTF8 is returned by ReadFile for binary content.
var ErrNotUTF8 = errors.New("file is not valid UTF-8")

// sensitiveEnvPatterns are case-insensitive suffixes for environment
// variables that never reach a spawned shell.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment(environ []string) []string {
	var filtered []string
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// LocalExecutionEnvironment runs tools on the local machine, rooted at the
// agent workspace.
type LocalExecutionEnvironment struct {
	workingDir string
	waitDelay  time.Duration
}

func NewLocalExecutionEnvironment(workingDir string) *LocalExecutionEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &LocalExecutionEnvironment{workingDir: workingDir, waitDelay: 2 * time.Second}
}

func (e *LocalExecutionEnvironment) WorkingDirectory() string { return e.workingDir }

func (e *LocalExecutionEnvironment) Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// resolvePath keeps absolute paths and anchors relative ones at the workspace.
func (e *LocalExecutionEnvironment) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workingDir, path)
}

func (e *LocalExecutionEnvironment) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(e.resolvePath(path))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrNotUTF8
	}
	return string(data), nil
}

// WriteFile creates or overwrites path, creating parent directories, and
// returns the number of bytes written.
func (e *LocalExecutionEnvironment) WriteFile(path string, content string) (int, error) {
	resolved := e.resolvePath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return 0, err
	}
	return len(content), nil
}

// ExecCommand runs command through the platform shell in the workspace.
// On timeout the whole process group is killed and the partial output is
// returned with TimedOut set. A non-zero exit is not an error.
func (e *LocalExecutionEnvironment) ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := shellCommand(ctx, command)
	cmd.Dir = e.workingDir
	cmd.Env = filterEnvironment(os.Environ())
	cmd.WaitDelay = e.waitDelay
	configureProcessGroup(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Output:     out.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("spawn %q: %w", command, err)
		}
	}
	return result, nil
}
