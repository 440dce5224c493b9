package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/danielpatrickdp/text2sql/internal/retrieval"
)

// DefaultClassName is the Weaviate class holding retrieval items.
const DefaultClassName = "Text2SQLItem"

// #region weaviate-struct

// Weaviate searches one class by vector, filtered on data_type and
// scope_id. Objects are stored with an external vector ("none" vectorizer).
type Weaviate struct {
	client *weaviate.Client
	class  string
	log    *slog.Logger
}

// NewWeaviate creates a store for rawURL ("http://host:port" or bare host).
func NewWeaviate(rawURL, class string, log *slog.Logger) (*Weaviate, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("weaviate url is required")
	}
	if class == "" {
		class = DefaultClassName
	}
	if log == nil {
		log = slog.Default()
	}

	cfg := weaviate.Config{Host: rawURL, Scheme: "http"}
	if h, ok := strings.CutPrefix(rawURL, "https://"); ok {
		cfg.Scheme = "https"
		cfg.Host = h
	} else if h, ok := strings.CutPrefix(rawURL, "http://"); ok {
		cfg.Host = h
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &Weaviate{client: client, class: class, log: log}, nil
}

// #endregion weaviate-struct

// #region schema

func (w *Weaviate) classSchema() *models.Class {
	filterable := true
	field := func(name, desc string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     desc,
			IndexFilterable: &filterable,
			Tokenization:    "field",
		}
	}
	return &models.Class{
		Class:       w.class,
		Description: "Retrieval items for SQL synthesis: DDL, docs, examples, QA pairs, notes.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			field("item_id", "Stable item identifier."),
			field("data_type", "One of ddl, documentation, sql_example, qa_pair, domain_note."),
			field("scope_id", "Database scope the item belongs to."),
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Item text.",
				Tokenization: "word",
			},
			{
				Name:        "fields_json",
				DataType:    []string{"text"},
				Description: "JSON object of auxiliary fields.",
			},
		},
	}
}

// EnsureClass creates the class if it does not exist.
func (w *Weaviate) EnsureClass(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(w.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", w.class, err)
	}
	if exists {
		return nil
	}
	if err := w.client.Schema().ClassCreator().WithClass(w.classSchema()).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", w.class, err)
	}
	w.log.Info("vectorstore: weaviate class created", "class", w.class)
	return nil
}

// #endregion schema

// #region add

// Add stores a record with its vector. A missing ID is generated.
func (w *Weaviate) Add(ctx context.Context, r Record) (string, error) {
	if err := r.normalize(); err != nil {
		return "", err
	}
	fieldsJSON, err := json.Marshal(r.Fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	_, err = w.client.Data().Creator().
		WithClassName(w.class).
		WithProperties(map[string]any{
			"item_id":     r.ID,
			"data_type":   string(r.Type),
			"scope_id":    r.ScopeID,
			"content":     r.Content,
			"fields_json": string(fieldsJSON),
		}).
		WithVector(r.Embedding).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}
	return r.ID, nil
}

// #endregion add

// #region search

type weaviateObject struct {
	ItemID     string `json:"item_id"`
	Content    string `json:"content"`
	FieldsJSON string `json:"fields_json"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
		Distance  *float64 `json:"distance"`
	} `json:"_additional"`
}

// Search implements retrieval.Store. The score is Weaviate's certainty.
func (w *Weaviate) Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.Item, error) {
	if req.Limit <= 0 {
		return nil, nil
	}

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"data_type"}).
				WithOperator(filters.Equal).
				WithValueText(string(req.Type)),
			filters.Where().
				WithPath([]string{"scope_id"}).
				WithOperator(filters.Equal).
				WithValueText(req.ScopeID),
		})

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(req.Embedding)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(
			graphql.Field{Name: "item_id"},
			graphql.Field{Name: "content"},
			graphql.Field{Name: "fields_json"},
			graphql.Field{Name: "_additional { id certainty distance }"},
		).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(req.Limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}

	return w.parse(result, req.Type)
}

func (w *Weaviate) parse(result *models.GraphQLResponse, t retrieval.ItemType) ([]retrieval.Item, error) {
	get, ok := result.Data["Get"]
	if !ok {
		return nil, nil
	}
	raw, err := json.Marshal(get)
	if err != nil {
		return nil, fmt.Errorf("re-encode graphql data: %w", err)
	}
	var byClass map[string][]weaviateObject
	if err := json.Unmarshal(raw, &byClass); err != nil {
		return nil, fmt.Errorf("decode graphql data: %w", err)
	}

	objs := byClass[w.class]
	items := make([]retrieval.Item, 0, len(objs))
	for _, o := range objs {
		it := retrieval.Item{ID: o.ItemID, Type: t, Content: o.Content}
		if it.ID == "" {
			it.ID = o.Additional.ID
		}
		switch {
		case o.Additional.Certainty != nil:
			it.Score = *o.Additional.Certainty
		case o.Additional.Distance != nil:
			it.Score = 1 - *o.Additional.Distance/2
		}
		if o.FieldsJSON != "" && o.FieldsJSON != "null" {
			if err := json.Unmarshal([]byte(o.FieldsJSON), &it.Fields); err != nil {
				w.log.Warn("vectorstore: bad fields_json", "id", it.ID, "error", err)
			}
		}
		items = append(items, it)
	}
	return items, nil
}

// #endregion search
