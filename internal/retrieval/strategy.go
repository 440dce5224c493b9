package retrieval

import "fmt"

// #region strategy-id

// Strategy names a quota profile distributing results across the five slots.
type Strategy string

const (
	StrategyBalanced     Strategy = "balanced"
	StrategyQAHeavy      Strategy = "qa_heavy"
	StrategySQLHeavy     Strategy = "sql_heavy"
	StrategyContextHeavy Strategy = "context_heavy"
)

// #endregion strategy-id

// #region strategy-definitions

// multipliers scale the base per-type quota for each strategy.
var multipliers = map[Strategy]map[ItemType]float64{
	StrategyBalanced: {
		TypeDDL: 1, TypeDocumentation: 1, TypeSQLExample: 1, TypeQAPair: 1, TypeDomainNote: 1,
	},
	StrategyQAHeavy: {
		TypeDDL: 0.5, TypeDocumentation: 0.5, TypeSQLExample: 1, TypeQAPair: 2, TypeDomainNote: 1,
	},
	StrategySQLHeavy: {
		TypeDDL: 1, TypeDocumentation: 0.5, TypeSQLExample: 2, TypeQAPair: 1, TypeDomainNote: 0.5,
	},
	StrategyContextHeavy: {
		TypeDDL: 2, TypeDocumentation: 2, TypeSQLExample: 1, TypeQAPair: 0.5, TypeDomainNote: 1,
	},
}

// #endregion strategy-definitions

// #region parse

// ParseStrategy validates a strategy name. "" maps to balanced.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyBalanced, nil
	}
	st := Strategy(s)
	if _, ok := multipliers[st]; !ok {
		return "", fmt.Errorf("unknown retrieval strategy %q", s)
	}
	return st, nil
}

// #endregion parse

// #region quota

// Quota returns the number of items the strategy allows for t, given the base
// per-type maximum. Every slot keeps at least one item when base > 0.
func (s Strategy) Quota(t ItemType, base int) int {
	if base <= 0 {
		return 0
	}
	m, ok := multipliers[s][t]
	if !ok {
		m = 1
	}
	q := int(float64(base) * m)
	if q < 1 {
		q = 1
	}
	return q
}

// Quotas returns the per-type quota map for a base maximum.
func (s Strategy) Quotas(base int) map[ItemType]int {
	out := make(map[ItemType]int, len(ItemTypes))
	for _, t := range ItemTypes {
		out[t] = s.Quota(t, base)
	}
	return out
}

// #endregion quota
