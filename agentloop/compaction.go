package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinemde/dinoe/unifiedllm"
)

const (
	DefaultKeepRecent = 20

	maxTranscriptChars = 12000
	maxSummaryChars    = 2000
	summaryPrefix      = "[Conversation summary]\n"

	summarizerPrompt = "You are a conversation summarizer. Summarize the following conversation into a concise context that preserves: user preferences, decisions, unresolved tasks, and key facts. Keep it under 2000 characters."
)

// Summarizer condenses a transcript of removed history.
type Summarizer func(ctx context.Context, transcript string) (string, error)

// ClientSummarizer summarizes with a tool-less completion on client.
func ClientSummarizer(client *unifiedllm.Client, model, provider string) Summarizer {
	return func(ctx context.Context, transcript string) (string, error) {
		return unifiedllm.GenerateText(ctx, client, unifiedllm.GenerateOptions{
			Model:    model,
			Provider: provider,
			System:   summarizerPrompt,
			Prompt:   "Summarize this conversation:\n\n" + transcript,
		})
	}
}

// compactionCut returns the index before which turns should be removed, or
// 0 when nothing can go. Cuts land only on user turns at or before
// currentStart, so a tool call never loses its result and the turn in
// progress is never split.
func compactionCut(turns []Turn, maxHistory, keepRecent, currentStart int) int {
	if maxHistory < 1 || len(turns) <= maxHistory {
		return 0
	}
	if currentStart < 0 || currentStart > len(turns) {
		currentStart = len(turns)
	}
	keep := keepRecent
	if keep <= 0 || keep > maxHistory-1 {
		keep = maxHistory - 1
	}

	cut := currentStart
	for i := max(len(turns)-keep, 0); i < currentStart; i++ {
		if turns[i].Kind == TurnUser {
			cut = i
			break
		}
	}

	floor := 0
	if len(turns) > 0 && turns[0].Kind == TurnSummary {
		floor = 1
	}
	if cut <= floor {
		return 0
	}
	return cut
}

// compactTurns replaces turns[:cut] with one summary turn. A failing or
// missing summarizer falls back to a truncated transcript. It reports
// whether the fallback was used.
func compactTurns(ctx context.Context, turns []Turn, cut int, summarize Summarizer) ([]Turn, bool) {
	transcript := buildTranscript(turns[:cut])

	var summary string
	var err error
	if summarize != nil {
		summary, err = summarize(ctx, transcript)
	}
	fallback := summarize == nil || err != nil || strings.TrimSpace(summary) == ""
	if fallback {
		summary = transcript
	}
	summary = truncateChars(strings.TrimSpace(summary), maxSummaryChars)

	out := make([]Turn, 0, len(turns)-cut+1)
	out = append(out, NewSummaryTurn(summaryPrefix+summary))
	out = append(out, turns[cut:]...)
	return out, fallback
}

func buildTranscript(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		switch t.Kind {
		case TurnSummary:
			fmt.Fprintf(&sb, "SUMMARY: %s\n", strings.TrimPrefix(t.Content, summaryPrefix))
		case TurnUser:
			fmt.Fprintf(&sb, "USER: %s\n", t.Content)
		case TurnAssistant:
			fmt.Fprintf(&sb, "ASSISTANT: %s\n", t.Content)
		case TurnToolCall:
			if t.Content != "" {
				fmt.Fprintf(&sb, "ASSISTANT: %s\n", t.Content)
			}
			if t.Call != nil {
				fmt.Fprintf(&sb, "TOOL CALL: %s %s\n", t.Call.Name, t.Call.Arguments)
			}
		case TurnToolResult:
			if t.Result != nil {
				fmt.Fprintf(&sb, "TOOL RESULT (%s): %s\n", t.Result.Status, t.Result.Payload)
			}
		}
	}
	return truncateChars(strings.TrimRight(sb.String(), "\n"), maxTranscriptChars)
}

// truncateChars cuts s to at most n bytes on a rune boundary and marks the
// cut with "...".
func truncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:runeStart(s, n-3)] + "..."
}
