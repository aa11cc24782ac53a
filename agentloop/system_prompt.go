package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/martinemde/dinoe/memory"
	"github.com/martinemde/dinoe/skills"
	"github.com/martinemde/dinoe/unifiedllm"
)

const (
	maxBootstrapChars = 20000
	sectionSeparator  = "\n\n---\n\n"

	DefaultRecallLimit    = 5
	DefaultRecallMinScore = 0.4
)

// SkillSource is the skill collaborator. *skills.Dir satisfies it.
type SkillSource interface {
	LoadAll() ([]skills.Skill, error)
}

// bootstrapFiles are workspace files that make up the persona, in order.
var bootstrapFiles = []struct {
	name  string
	title string
}{
	{"SOUL.md", "Agent Identity"},
	{"TOOLS.md", "Local Tool Notes"},
	{"USER.md", "User Context"},
}

const defaultPersona = `## Agent Identity

You are Dinoe, a personal assistant that runs in the user's terminal. Be direct and concise. Use tools to inspect files, run commands and remember things instead of guessing, and say so plainly when you do not know something.`

// ContextBuilder assembles the system prompt and the message list for one
// provider round.
type ContextBuilder struct {
	workspace   string
	memory      MemoryStore
	skills      SkillSource
	tools       *ToolRegistry
	recallLimit int
	minScore    float64
	now         func() time.Time
	gitInfo     bool
	logger      *slog.Logger
}

type ContextOption func(*ContextBuilder)

func WithContextMemory(m MemoryStore) ContextOption {
	return func(b *ContextBuilder) { b.memory = m }
}

func WithContextSkills(s SkillSource) ContextOption {
	return func(b *ContextBuilder) { b.skills = s }
}

func WithContextTools(reg *ToolRegistry) ContextOption {
	return func(b *ContextBuilder) { b.tools = reg }
}

// WithRecall sets the snippet cap and the minimum keyword score.
func WithRecall(limit int, minScore float64) ContextOption {
	return func(b *ContextBuilder) {
		if limit > 0 {
			b.recallLimit = limit
		}
		if minScore >= 0 {
			b.minScore = minScore
		}
	}
}

func WithContextClock(now func() time.Time) ContextOption {
	return func(b *ContextBuilder) { b.now = now }
}

// WithGitInfo toggles the git branch lookup in the runtime section.
func WithGitInfo(enabled bool) ContextOption {
	return func(b *ContextBuilder) { b.gitInfo = enabled }
}

func WithContextLogger(l *slog.Logger) ContextOption {
	return func(b *ContextBuilder) { b.logger = l }
}

func NewContextBuilder(workspace string, opts ...ContextOption) *ContextBuilder {
	b := &ContextBuilder{
		workspace:   workspace,
		recallLimit: DefaultRecallLimit,
		minScore:    DefaultRecallMinScore,
		now:         time.Now,
		gitInfo:     true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the system prompt followed by the rendered history.
func (b *ContextBuilder) Build(ctx context.Context, userMessage string, history []Turn) []unifiedllm.Message {
	msgs := []unifiedllm.Message{unifiedllm.SystemMessage(b.SystemPrompt(ctx, userMessage))}
	return append(msgs, renderTurns(history)...)
}

// SystemPrompt concatenates persona, tool protocol, runtime facts, recalled
// memory and skills. Empty sections are omitted.
func (b *ContextBuilder) SystemPrompt(ctx context.Context, userMessage string) string {
	sections := []string{
		b.persona(),
		b.toolSection(),
		b.runtimeSection(ctx),
		b.memorySection(userMessage),
		b.skillsSection(),
	}
	var out []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, sectionSeparator)
}

func (b *ContextBuilder) persona() string {
	var parts []string
	for _, f := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, f.name))
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if len(text) > maxBootstrapChars {
			text = text[:runeStart(text, maxBootstrapChars)] +
				fmt.Sprintf("\n\n[... truncated at %d chars, use file_read for full content]", maxBootstrapChars)
		}
		parts = append(parts, fmt.Sprintf("## %s (%s)\n\n%s", f.title, f.name, text))
	}
	if len(parts) == 0 {
		return defaultPersona
	}
	return strings.Join(parts, "\n\n")
}

func (b *ContextBuilder) toolSection() string {
	if b.tools == nil || b.tools.Count() == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Tool Use Protocol\n\n")
	sb.WriteString("To use a tool, wrap a JSON object in <tool_call></tool_call> tags:\n\n")
	sb.WriteString("<tool_call>\n{\"name\": \"tool_name\", \"arguments\": {\"param\": \"value\"}}\n</tool_call>\n\n")
	sb.WriteString("You may request several tools in one reply. Tool results arrive in the next message; reply without tool calls once you have the answer.\n\n")
	sb.WriteString("### Available Tools\n")
	for _, def := range b.tools.Definitions() {
		schema, _ := json.Marshal(def.Parameters)
		fmt.Fprintf(&sb, "\n**%s**: %s\nParameters: `%s`\n", def.Name, def.Description, schema)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *ContextBuilder) runtimeSection(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString("## Runtime Context\n\n")
	fmt.Fprintf(&sb, "### Current Time\n%s\n\n", b.now().Format("2006-01-02 15:04 (Monday)"))
	fmt.Fprintf(&sb, "### Workspace\n%s\n\n", b.workspace)
	fmt.Fprintf(&sb, "### Platform\n%s/%s", runtime.GOOS, runtime.GOARCH)
	if b.gitInfo && isGitRepository(ctx, b.workspace) {
		if branch := getGitBranch(ctx, b.workspace); branch != "" {
			fmt.Fprintf(&sb, "\n\n### Git Branch\n%s", branch)
		}
	}
	return sb.String()
}

func (b *ContextBuilder) memorySection(query string) string {
	if b.memory == nil || strings.TrimSpace(query) == "" {
		return ""
	}
	hits, err := b.memory.Recall(query, b.recallLimit)
	if err != nil {
		b.logger.Warn("memory recall failed", "error", err)
		return ""
	}
	var lines []string
	for _, h := range filterHits(hits, b.minScore) {
		lines = append(lines, "- "+h.Content)
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Relevant Memory\n\n" + strings.Join(lines, "\n")
}

func filterHits(hits []memory.Hit, minScore float64) []memory.Hit {
	var out []memory.Hit
	for _, h := range hits {
		if h.Score >= minScore {
			out = append(out, h)
		}
	}
	return out
}

func (b *ContextBuilder) skillsSection() string {
	if b.skills == nil {
		return ""
	}
	loaded, err := b.skills.LoadAll()
	if err != nil {
		b.logger.Warn("skill loading failed", "error", err)
		return ""
	}
	if len(loaded) == 0 {
		return ""
	}
	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].Name < loaded[j].Name })

	var sb strings.Builder
	sb.WriteString("## Skills\n\n<available_skills>\n")
	for _, s := range loaded {
		fmt.Fprintf(&sb, "  <skill>\n    <name>%s</name>\n    <description>%s</description>\n    <location>%s</location>\n  </skill>\n",
			s.Name, s.Description, s.Location)
	}
	sb.WriteString("</available_skills>")
	for _, s := range loaded {
		if body := strings.TrimSpace(s.Body); body != "" {
			fmt.Fprintf(&sb, "\n\n### %s\n\n%s", s.Name, body)
		}
	}
	return sb.String()
}

func isGitRepository(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

func getGitBranch(ctx context.Context, dir string) string {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
