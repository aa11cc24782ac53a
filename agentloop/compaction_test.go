package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exchange builds one finished user turn with a tool round.
func exchange(i int) []Turn {
	id := fmt.Sprintf("c%d", i)
	return []Turn{
		NewUserTurn(fmt.Sprintf("q%d", i)),
		NewToolCallTurn(i, "", call(id, "echo", `{}`)),
		NewToolResultTurn(i, ToolResult{CallID: id, Status: StatusSuccess, Payload: "ok"}),
		NewAssistantTurn(fmt.Sprintf("a%d", i)),
	}
}

func history(n int) []Turn {
	var out []Turn
	for i := 0; i < n; i++ {
		out = append(out, exchange(i)...)
	}
	return out
}

func TestCompactionCut(t *testing.T) {
	turns := history(5) // 20 entries, users at 0,4,8,12,16

	tests := []struct {
		name         string
		maxHistory   int
		keepRecent   int
		currentStart int
		want         int
	}{
		{"under budget", 20, 10, 16, 0},
		{"cut lands on a user boundary", 10, 6, 16, 16},
		{"earliest boundary inside the kept window", 12, 9, -1, 12},
		{"never cuts into the current turn", 10, 4, 12, 12},
		{"keep bounded by max history", 6, 20, -1, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compactionCut(turns, tt.maxHistory, tt.keepRecent, tt.currentStart))
		})
	}
}

func TestCompactionCutNeverSplitsPairs(t *testing.T) {
	turns := history(6)
	for maxHistory := 2; maxHistory < len(turns); maxHistory++ {
		for keep := 1; keep < 30; keep++ {
			cut := compactionCut(turns, maxHistory, keep, -1)
			if cut == 0 {
				continue
			}
			if cut < len(turns) {
				require.Equal(t, TurnUser, turns[cut].Kind, "max=%d keep=%d cut=%d", maxHistory, keep, cut)
			}
			compacted, _ := compactTurns(context.Background(), turns, cut, nil)
			assert.Empty(t, pairingViolations(compacted))
		}
	}
}

func TestCompactionCutSkipsLoneSummary(t *testing.T) {
	turns := append([]Turn{NewSummaryTurn(summaryPrefix + "old")}, exchange(0)...)
	// Only the summary precedes the current turn; nothing to fold.
	assert.Equal(t, 0, compactionCut(turns, 2, 1, 1))
}

func TestCompactTurnsUsesSummarizer(t *testing.T) {
	turns := history(3)
	var seen string
	out, fallback := compactTurns(context.Background(), turns, 8, func(ctx context.Context, transcript string) (string, error) {
		seen = transcript
		return "  summary text  ", nil
	})

	assert.False(t, fallback)
	require.Len(t, out, 5)
	assert.Equal(t, TurnSummary, out[0].Kind)
	assert.Equal(t, "[Conversation summary]\nsummary text", out[0].Content)
	assert.Equal(t, "q2", out[1].Content)
	assert.Contains(t, seen, "USER: q0")
	assert.Contains(t, seen, "TOOL CALL: echo {}")
	assert.Contains(t, seen, "TOOL RESULT (success): ok")
	assert.Contains(t, seen, "ASSISTANT: a1")
	assert.NotContains(t, seen, "q2")
}

func TestCompactTurnsFallsBackToTranscript(t *testing.T) {
	turns := history(2)
	out, fallback := compactTurns(context.Background(), turns, 4, func(ctx context.Context, transcript string) (string, error) {
		return "", errors.New("provider down")
	})
	assert.True(t, fallback)
	assert.True(t, strings.HasPrefix(out[0].Content, summaryPrefix+"USER: q0"))
}

func TestCompactTurnsCapsSummary(t *testing.T) {
	turns := []Turn{NewUserTurn(strings.Repeat("word ", 5000)), NewUserTurn("now")}
	out, fallback := compactTurns(context.Background(), turns, 1, nil)
	assert.True(t, fallback)
	assert.LessOrEqual(t, len(out[0].Content), len(summaryPrefix)+maxSummaryChars)
	assert.True(t, strings.HasSuffix(out[0].Content, "..."))
}

func TestBuildTranscriptCapped(t *testing.T) {
	turns := []Turn{NewUserTurn(strings.Repeat("x", 20000))}
	got := buildTranscript(turns)
	assert.Len(t, got, maxTranscriptChars)
	assert.True(t, strings.HasSuffix(got, "..."))
}
