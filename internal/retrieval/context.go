package retrieval

// #region select-for-type

// selectForType runs one type's candidates through quality filtering,
// diversity filtering, ordering, and quota truncation.
func selectForType(raw []Item, t ItemType, quota int, cfg Config) ([]Item, Stats) {
	st := Stats{Type: t, Fetched: len(raw)}

	items := make([]Item, len(raw))
	for i, it := range raw {
		it.rank = i
		if it.Type == "" {
			it.Type = t
		}
		items[i] = it
	}

	if cfg.QualityFilter {
		items = FilterQuality(items, t, cfg)
	}
	st.Quality = len(items)

	if cfg.DiversityFilter {
		items = EnsureDiversity(items, cfg.MaxSimilar, cfg.DiversityJaccard)
	}
	st.Diversity = len(items)

	items = sortByScore(items)
	if len(items) > quota {
		items = items[:quota]
	}
	st.Kept = len(items)
	return items, st
}

// #endregion select-for-type

// #region build-bundle

// BuildBundle assembles a ContextBundle from raw per-type search results,
// applying the strategy's quotas. Types missing from raw yield empty slots.
func BuildBundle(raw map[ItemType][]Item, strategy Strategy, cfg Config) ContextBundle {
	b := ContextBundle{Strategy: strategy}
	for _, t := range ItemTypes {
		items, st := selectForType(raw[t], t, strategy.Quota(t, cfg.MaxExamplesPerType), cfg)
		b.setSlot(t, items)
		b.Stats = append(b.Stats, st)
	}
	b.HighQualityQA = countHighQuality(b.QAPairs, cfg.HighQualityScore)
	return b
}

func (b *ContextBundle) setSlot(t ItemType, items []Item) {
	switch t {
	case TypeDDL:
		b.DDL = items
	case TypeDocumentation:
		b.Documentation = items
	case TypeSQLExample:
		b.SQLExamples = items
	case TypeQAPair:
		b.QAPairs = items
	case TypeDomainNote:
		b.DomainNotes = items
	}
}

func countHighQuality(pairs []Item, threshold float64) int {
	n := 0
	for _, p := range pairs {
		if p.Score >= threshold {
			n++
		}
	}
	return n
}

// HighQualityQAPairs returns the QA pairs scoring at or above threshold.
func (b ContextBundle) HighQualityQAPairs(threshold float64) []Item {
	var out []Item
	for _, p := range b.QAPairs {
		if p.Score >= threshold {
			out = append(out, p)
		}
	}
	return out
}

// #endregion build-bundle
