package retrieval

import "context"

// #region item-type

// ItemType identifies one of the five retrievable context sources.
type ItemType string

const (
	TypeDDL           ItemType = "ddl"           // structural definitions
	TypeDocumentation ItemType = "documentation" // schema / column documentation
	TypeSQLExample    ItemType = "sql_example"   // standalone example queries
	TypeQAPair        ItemType = "qa_pair"       // question / SQL pairs
	TypeDomainNote    ItemType = "domain_note"   // business rules, evidence notes
)

// ItemTypes lists every slot in bundle order.
var ItemTypes = []ItemType{TypeDDL, TypeDocumentation, TypeSQLExample, TypeQAPair, TypeDomainNote}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	for _, known := range ItemTypes {
		if t == known {
			return true
		}
	}
	return false
}

// carriesSQL reports whether items of this type embed SQL text.
func (t ItemType) carriesSQL() bool {
	return t == TypeSQLExample || t == TypeQAPair
}

// #endregion item-type

// #region item

// Item is a single retrieved context entry.
type Item struct {
	ID      string            `json:"id"`
	Type    ItemType          `json:"type"`
	Content string            `json:"content"`
	Score   float64           `json:"score"`
	Fields  map[string]string `json:"fields,omitempty"` // e.g. "question", "sql", "title"
	rank    int               // position in the store's response
}

// Field returns an extra field or "".
func (it Item) Field(key string) string {
	if it.Fields == nil {
		return ""
	}
	return it.Fields[key]
}

// #endregion item

// #region bundle

// ContextBundle is the five-slot retrieval output consumed by SQL synthesis.
// A bundle is built once per retrieval call and never modified afterwards;
// empty slots mean "no signal".
type ContextBundle struct {
	DDL           []Item `json:"ddl"`
	Documentation []Item `json:"documentation"`
	SQLExamples   []Item `json:"sql_examples"`
	QAPairs       []Item `json:"qa_pairs"`
	DomainNotes   []Item `json:"domain_notes"`

	HighQualityQA int      `json:"high_quality_qa"`
	Strategy      Strategy `json:"strategy"`
	Stats         []Stats  `json:"stats,omitempty"`
}

// Slot returns the items stored for t.
func (b ContextBundle) Slot(t ItemType) []Item {
	switch t {
	case TypeDDL:
		return b.DDL
	case TypeDocumentation:
		return b.Documentation
	case TypeSQLExample:
		return b.SQLExamples
	case TypeQAPair:
		return b.QAPairs
	case TypeDomainNote:
		return b.DomainNotes
	}
	return nil
}

// Total is the number of items across all slots.
func (b ContextBundle) Total() int {
	n := 0
	for _, t := range ItemTypes {
		n += len(b.Slot(t))
	}
	return n
}

// Empty reports whether every slot is empty.
func (b ContextBundle) Empty() bool {
	return b.Total() == 0
}

// Stats records how many candidates survived each filtering phase for one type.
type Stats struct {
	Type      ItemType `json:"type"`
	Fetched   int      `json:"fetched"`
	Quality   int      `json:"after_quality"`
	Diversity int      `json:"after_diversity"`
	Kept      int      `json:"kept"`
	Err       string   `json:"error,omitempty"`
}

// #endregion bundle

// #region collaborators

// SearchRequest is a single type- and scope-filtered vector search.
type SearchRequest struct {
	Embedding []float32
	Type      ItemType
	ScopeID   string
	Limit     int
}

// Store is the backing retrieval store. Implementations must be safe for
// concurrent readers.
type Store interface {
	Search(ctx context.Context, req SearchRequest) ([]Item, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion collaborators
