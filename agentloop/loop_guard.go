package agentloop

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// DefaultLoopThreshold is the number of identical calls allowed per turn.
const DefaultLoopThreshold = 3

// LoopGuard counts (tool, fingerprint) pairs within one user turn.
type LoopGuard struct {
	threshold int
	counts    map[string]int
}

func NewLoopGuard(threshold int) *LoopGuard {
	if threshold < 1 {
		threshold = DefaultLoopThreshold
	}
	return &LoopGuard{threshold: threshold, counts: make(map[string]int)}
}

// Threshold returns the configured repeat limit.
func (g *LoopGuard) Threshold() int { return g.threshold }

// Reset forgets every observation. Called at the start of each user turn.
func (g *LoopGuard) Reset() {
	g.counts = make(map[string]int)
}

// Observe records one call and reports whether the pair has now been seen
// more than threshold times.
func (g *LoopGuard) Observe(name, fingerprint string) bool {
	key := name + "\x00" + fingerprint
	g.counts[key]++
	return g.counts[key] > g.threshold
}

// Fingerprint derives a stable key from tool arguments. Objects are
// re-encoded so key order and whitespace do not matter; anything that does
// not decode is hashed as raw bytes.
func Fingerprint(args json.RawMessage) string {
	canonical := []byte(args)
	var v interface{}
	if err := json.Unmarshal(args, &v); err == nil {
		// encoding/json sorts map keys.
		if b, err := json.Marshal(v); err == nil {
			canonical = b
		}
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:16])
}
