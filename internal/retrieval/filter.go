package retrieval

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// #region sql-error-signatures

// sqlErrorSignatures mark stored SQL that was captured from a failing run.
var sqlErrorSignatures = []string{
	"syntax error", "no such table", "no such column",
	"unknown table", "unknown column",
}

// #endregion sql-error-signatures

// #region quality

// FilterQuality drops candidates below the similarity threshold, outside the
// content length bounds, or (for SQL-bearing types) carrying a SQL error
// signature. Input order is preserved.
func FilterQuality(items []Item, t ItemType, cfg Config) []Item {
	kept := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Score < cfg.SimilarityThreshold {
			continue
		}
		n := utf8.RuneCountInString(it.Content)
		if n < cfg.MinContentLength || n > cfg.MaxContentLength {
			continue
		}
		if t.carriesSQL() && (hasSQLErrorSignature(it.Content) || hasSQLErrorSignature(it.Field("sql"))) {
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

func hasSQLErrorSignature(content string) bool {
	lower := strings.ToLower(content)
	for _, sig := range sqlErrorSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// #endregion quality

// #region diversity

// EnsureDiversity walks candidates in descending score order and keeps each
// one unless it is similar to at least maxSimilar already-kept items. The
// highest-scoring candidate is always kept, so a non-empty input never
// yields an empty slot.
func EnsureDiversity(items []Item, maxSimilar int, jaccard float64) []Item {
	if len(items) == 0 {
		return nil
	}
	if maxSimilar <= 0 {
		maxSimilar = 1
	}

	sorted := sortByScore(items)
	kept := make([]Item, 0, len(sorted))
	keptTokens := make([]map[string]struct{}, 0, len(sorted))

	for _, cand := range sorted {
		tokens := tokenSet(cand.Content)
		similar := 0
		for i, k := range kept {
			if nearDuplicate(cand.Content, k.Content, tokens, keptTokens[i], jaccard) {
				similar++
			}
		}
		if similar >= maxSimilar {
			continue
		}
		kept = append(kept, cand)
		keptTokens = append(keptTokens, tokens)
	}
	return kept
}

// nearDuplicate requires both token overlap and comparable length.
func nearDuplicate(a, b string, ta, tb map[string]struct{}, threshold float64) bool {
	if Jaccard(ta, tb) < threshold {
		return false
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longer, diff := la, la-lb
	if lb > longer {
		longer = lb
	}
	if diff < 0 {
		diff = -diff
	}
	return diff*2 <= longer
}

// Jaccard is |a ∩ b| / |a ∪ b|; two empty sets are identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// tokenSet lower-cases and splits on whitespace.
func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// #endregion diversity

// #region ordering

// sortByScore returns a copy ordered by score descending, ties broken by the
// store's original response order.
func sortByScore(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].rank < out[j].rank
	})
	return out
}

// #endregion ordering
