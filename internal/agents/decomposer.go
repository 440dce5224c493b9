package agents

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/danielpatrickdp/text2sql/internal/llm"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
)

// #region decomposer

// ErrNoSQL is returned when the model's reply contains no query.
var ErrNoSQL = errors.New("no sql in model response")

const decomposeSystem = `You are an expert SQL analyst. Answer with a single read-only query for the given database.`

// Decomposer builds the synthesis prompt and parses the model's reply.
type Decomposer struct {
	llm    llm.Client
	config retrieval.Config
	log    *slog.Logger
}

// NewDecomposer creates a Decomposer. cfg bounds the prompt.
func NewDecomposer(client llm.Client, cfg retrieval.Config, log *slog.Logger) *Decomposer {
	if log == nil {
		log = slog.Default()
	}
	return &Decomposer{llm: client, config: cfg, log: log}
}

// Decompose implements orchestrator.Decomposer.
func (d *Decomposer) Decompose(ctx context.Context, in orchestrator.DecomposerInput) (orchestrator.DecomposerOutput, error) {
	schema := in.SchemaText
	if in.RelationshipText != "" {
		schema += "\nRelationships:\n" + in.RelationshipText
	}

	var extra []string
	if in.Evidence != "" {
		extra = append(extra, "Evidence: "+in.Evidence)
	}
	if in.ErrorContext != "" {
		extra = append(extra, in.ErrorContext)
	}

	prompt := retrieval.BuildPrompt(in.Question, in.Bundle, schema, strings.Join(extra, "\n\n"), d.config)
	d.log.Debug("decomposer: prompt built", "scope", in.ScopeID, "attempt", in.Attempt, "chars", len(prompt))

	reply, err := d.llm.Complete(ctx, decomposeSystem, prompt)
	if err != nil {
		return orchestrator.DecomposerOutput{}, err
	}
	return ParseReply(reply)
}

// #endregion decomposer

// #region parse

type jsonReply struct {
	SQL          string   `json:"sql"`
	SubQuestions []string `json:"sub_questions"`
	Strategy     string   `json:"strategy"`
}

var (
	fenceSQL  = regexp.MustCompile("(?is)```sql\\s*(.*?)```")
	fenceAny  = regexp.MustCompile("(?s)```\\s*(.*?)```")
	bareQuery = regexp.MustCompile(`(?is)\b(select|with)\b.*`)
)

// ParseReply extracts the query from a model reply. It tries, in order, a
// JSON object, a sql code fence, any code fence, and a bare statement.
func ParseReply(reply string) (orchestrator.DecomposerOutput, error) {
	if body := extractJSON(reply, '{', '}'); strings.HasPrefix(body, "{") {
		var jr jsonReply
		if err := json.Unmarshal([]byte(body), &jr); err == nil && strings.TrimSpace(jr.SQL) != "" {
			return orchestrator.DecomposerOutput{
				SQL:           cleanSQL(jr.SQL),
				SubQuestions:  jr.SubQuestions,
				StrategyLabel: jr.Strategy,
			}, nil
		}
	}
	if m := fenceSQL.FindStringSubmatch(reply); m != nil && strings.TrimSpace(m[1]) != "" {
		return orchestrator.DecomposerOutput{SQL: cleanSQL(m[1])}, nil
	}
	if m := fenceAny.FindStringSubmatch(reply); m != nil && strings.TrimSpace(m[1]) != "" {
		return orchestrator.DecomposerOutput{SQL: cleanSQL(m[1])}, nil
	}
	if m := bareQuery.FindString(reply); m != "" {
		return orchestrator.DecomposerOutput{SQL: cleanSQL(m)}, nil
	}
	return orchestrator.DecomposerOutput{}, ErrNoSQL
}

func cleanSQL(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// #endregion parse
