package unifiedllm

import (
	"encoding/json"
	"strings"
)

// Tag pairs recognized when a model writes tool calls into its text
// instead of using native tool calling. Open and close tags are paired by
// index.
var (
	textToolOpenTags  = []string{"<function=", "<tool_call", "<invoke"}
	textToolCloseTags = []string{"</function>", "</tool_call", "</invoke>"}
)

// ParseTextToolCalls extracts tool calls that a model wrote inline as
// {"name": ..., "arguments": {...}} JSON inside <tool_call> (or <function=,
// <invoke) blocks. It returns the text outside those blocks, joined by
// newlines, and the calls in order of appearance. Calls have no id.
func ParseTextToolCalls(text string) (string, []ToolCallData) {
	var parts []string
	var calls []ToolCallData
	remaining := text

	for {
		start, tagIdx := firstTag(remaining)
		if start < 0 {
			break
		}
		if before := strings.TrimSpace(remaining[:start]); before != "" {
			parts = append(parts, before)
		}
		afterOpen := remaining[start+len(textToolOpenTags[tagIdx]):]
		closeIdx := strings.Index(afterOpen, textToolCloseTags[tagIdx])
		if closeIdx < 0 {
			// Unterminated block: keep it as text.
			remaining = remaining[start:]
			break
		}
		for _, obj := range extractJSONObjects(afterOpen[:closeIdx]) {
			if call, ok := toolCallFromJSON(obj); ok {
				calls = append(calls, call)
			}
		}
		remaining = afterOpen[closeIdx+len(textToolCloseTags[tagIdx]):]
		// Drop the rest of a close tag such as "</tool_call>".
		remaining = strings.TrimPrefix(remaining, ">")
	}
	if rest := strings.TrimSpace(remaining); rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, "\n"), calls
}

func firstTag(s string) (int, int) {
	best, bestTag := -1, -1
	for i, tag := range textToolOpenTags {
		if idx := strings.Index(s, tag); idx >= 0 && (best < 0 || idx < best) {
			best, bestTag = idx, i
		}
	}
	return best, bestTag
}

// extractJSONObjects returns every balanced top-level {...} span in s that
// parses as JSON.
func extractJSONObjects(s string) []json.RawMessage {
	var out []json.RawMessage
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := s[start : i+1]
				if json.Valid([]byte(candidate)) {
					out = append(out, json.RawMessage(candidate))
				}
				start = -1
			}
		}
	}
	return out
}

func toolCallFromJSON(raw json.RawMessage) (ToolCallData, bool) {
	var v struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &v); err != nil || v.Name == "" {
		return ToolCallData{}, false
	}
	args := v.Arguments
	// Some models encode the arguments object as a JSON string.
	var encoded string
	if json.Unmarshal(args, &encoded) == nil {
		args = json.RawMessage(encoded)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return ToolCallData{Name: v.Name, Arguments: args}, true
}

// TextToolFilter passes streamed text through while holding back inline
// tool-call blocks, so a live display never shows the raw call JSON. Text
// that could be the start of a tag is held until the next fragment decides.
type TextToolFilter struct {
	pending string
	inside  int  // open tag being skipped, -1 outside a block
	dropGT  bool // a close tag without its ">" just ended
}

func NewTextToolFilter() *TextToolFilter {
	return &TextToolFilter{inside: -1}
}

// Push takes the next text fragment and returns what is safe to display.
func (f *TextToolFilter) Push(delta string) string {
	text := f.pending + delta
	f.pending = ""
	var out strings.Builder
	for text != "" {
		if f.inside >= 0 {
			closeTag := textToolCloseTags[f.inside]
			idx := strings.Index(text, closeTag)
			if idx < 0 {
				f.pending = text[len(text)-partialTagSuffix(text, closeTag):]
				break
			}
			text = text[idx+len(closeTag):]
			f.dropGT = !strings.HasSuffix(closeTag, ">")
			f.inside = -1
			continue
		}
		if f.dropGT {
			text = strings.TrimPrefix(text, ">")
			f.dropGT = false
			continue
		}
		start, tag := firstTag(text)
		if start < 0 {
			keep := 0
			for _, t := range textToolOpenTags {
				if n := partialTagSuffix(text, t); n > keep {
					keep = n
				}
			}
			out.WriteString(text[:len(text)-keep])
			f.pending = text[len(text)-keep:]
			break
		}
		out.WriteString(text[:start])
		text = text[start+len(textToolOpenTags[tag]):]
		f.inside = tag
	}
	return out.String()
}

// Flush ends the stream. Held text that never became a tag is returned; an
// unterminated block stays hidden.
func (f *TextToolFilter) Flush() string {
	out := ""
	if f.inside < 0 {
		out = f.pending
	}
	f.pending, f.inside, f.dropGT = "", -1, false
	return out
}

// partialTagSuffix is the length of the longest proper prefix of tag that
// s ends with.
func partialTagSuffix(s, tag string) int {
	n := len(tag) - 1
	if len(s) < n {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
