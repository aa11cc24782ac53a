package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies which part of an oversized payload survives.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// OutputLimit bounds one tool's payload before it enters the history.
type OutputLimit struct {
	MaxChars int
	MaxLines int
	Mode     TruncationMode
}

// DefaultOutputLimits are per-tool caps on success payloads.
var DefaultOutputLimits = map[string]OutputLimit{
	"file_read":    {MaxChars: 50000, Mode: TruncateHeadTail},
	"file_write":   {MaxChars: 1000, Mode: TruncateTail},
	"shell":        {MaxChars: 30000, MaxLines: 256, Mode: TruncateHeadTail},
	"memory_read":  {MaxChars: 20000, MaxLines: 200, Mode: TruncateHeadTail},
	"memory_write": {MaxChars: 1000, Mode: TruncateTail},
}

var fallbackOutputLimit = OutputLimit{MaxChars: 30000, Mode: TruncateHeadTail}

// TruncateOutput applies character-based truncation. Cuts are made on rune
// boundaries.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		tail := output[runeStart(output, len(output)-maxChars):]
		return fmt.Sprintf("[output truncated: first %d characters removed]\n\n", removed) + tail
	}

	half := maxChars / 2
	head := output[:runeStart(output, half)]
	tail := output[runeStart(output, len(output)-half):]
	return head +
		fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle; re-run with narrower parameters to see more]\n\n", removed) +
		tail
}

// runeStart moves i back to the start of the rune containing it.
func runeStart(s string, i int) int {
	for i > 0 && i < len(s) && s[i]&0xC0 == 0x80 {
		i--
	}
	return i
}

// TruncateLines keeps the first and last lines around an omission marker.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies the character cap first, then the line cap.
// limits overrides DefaultOutputLimits per tool; nil uses the defaults.
func TruncateToolOutput(toolName, output string, limits map[string]OutputLimit) string {
	limit, ok := limits[toolName]
	if !ok {
		limit, ok = DefaultOutputLimits[toolName]
		if !ok {
			limit = fallbackOutputLimit
		}
	}
	result := TruncateOutput(output, limit.MaxChars, limit.Mode)
	return TruncateLines(result, limit.MaxLines)
}
