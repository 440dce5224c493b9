package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// #region fixture-types

// Fixture is one line of a JSONL evaluation file.
type Fixture struct {
	ID       string `json:"id"`
	ScopeID  string `json:"scope_id"`
	Question string `json:"question"`
	Evidence string `json:"evidence,omitempty"`
	GoldSQL  string `json:"gold_sql"`
}

func (f Fixture) validate() error {
	switch {
	case f.ID == "":
		return fmt.Errorf("id is required")
	case f.ScopeID == "":
		return fmt.Errorf("fixture %s: scope_id is required", f.ID)
	case strings.TrimSpace(f.Question) == "":
		return fmt.Errorf("fixture %s: question is required", f.ID)
	case strings.TrimSpace(f.GoldSQL) == "":
		return fmt.Errorf("fixture %s: gold_sql is required", f.ID)
	}
	return nil
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixtures reads a JSONL fixture file. Blank lines and lines starting
// with # are skipped.
func LoadFixtures(path string) ([]Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures %s: %w", path, err)
	}
	defer f.Close()

	fixtures, err := ReadFixtures(f)
	if err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return fixtures, nil
}

// ReadFixtures parses JSONL fixtures from r.
func ReadFixtures(r io.Reader) ([]Fixture, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []Fixture
	seen := make(map[string]bool)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var fx Fixture
		if err := json.Unmarshal([]byte(text), &fx); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := fx.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if seen[fx.ID] {
			return nil, fmt.Errorf("line %d: duplicate fixture id %q", line, fx.ID)
		}
		seen[fx.ID] = true
		out = append(out, fx)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion fixture-loader
