package memory

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// stopWords are dropped from queries. They appear in nearly every entry and
// would otherwise lift unrelated hits over the recall threshold.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "has": true, "have": true, "how": true, "i": true,
	"if": true, "in": true, "is": true, "it": true, "me": true, "my": true,
	"of": true, "on": true, "or": true, "s": true, "so": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "we": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"why": true, "will": true, "with": true, "you": true, "your": true,
}

// generatedKeyRe matches keys assigned by the store or the session rather
// than chosen by the model.
var generatedKeyRe = regexp.MustCompile(`^(memory|msg_[a-z]+)_[0-9a-f]{8}$`)

// GeneratedKey reports whether key was assigned automatically. Such keys
// carry no meaning and are left out of scoring.
func GeneratedKey(key string) bool {
	return generatedKeyRe.MatchString(key)
}

// Keywords splits text into distinct lowercase alphanumeric tokens in order
// of first appearance.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// QueryKeywords is Keywords without stop words.
func QueryKeywords(text string) []string {
	all := Keywords(text)
	out := all[:0]
	for _, k := range all {
		if !stopWords[k] {
			out = append(out, k)
		}
	}
	return out
}

// Score returns the fraction of keywords that occur as whole tokens in the
// entry's content or in a key the model chose. An empty keyword list scores
// zero.
func Score(keywords []string, e Entry) float64 {
	if len(keywords) == 0 {
		return 0
	}
	tokens := make(map[string]bool)
	for _, t := range Keywords(e.Content) {
		tokens[t] = true
	}
	if !GeneratedKey(e.Key) {
		for _, t := range Keywords(e.Key) {
			tokens[t] = true
		}
	}
	matched := 0
	for _, k := range keywords {
		if tokens[k] {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

// Rank scores entries against query, drops non-matches, and orders the rest
// by score then recency. limit <= 0 means no cap.
func Rank(query string, entries []Entry, limit int) []Hit {
	keywords := QueryKeywords(query)
	var hits []Hit
	for _, e := range entries {
		if s := Score(keywords, e); s > 0 {
			hits = append(hits, Hit{Entry: e, Score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
