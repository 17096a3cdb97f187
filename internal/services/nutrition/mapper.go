package nutrition

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
)

// Categories is the fixed nutrition category enumeration. Order is
// significant: missing-category reporting follows it.
var Categories = []string{
	"carbohydrates",
	"proteins",
	"fats_oils",
	"vitamins",
	"minerals",
	"water",
}

// Record is one food's nutrition metadata from the mapping table.
type Record struct {
	Category    string   `json:"category"`
	LocalNames  []string `json:"local_names,omitempty"`
	Description string   `json:"description,omitempty"`
}

// listRecord is the legacy list-of-records shape. Older tables used "name"
// where newer ones use "id".
type listRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Record
}

// Mapper resolves class names to nutrition metadata. It is read-only after
// Load and safe for concurrent use.
type Mapper struct {
	records    map[string]Record
	byCategory map[string][]string
	skipped    int
}

// Load reads a mapping table from disk. The file is required, but individual
// malformed entries are skipped with a warning rather than failing the load.
func Load(path string, logger *zap.Logger) (*Mapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nutrition table: %w", err)
	}
	return Parse(data, logger)
}

// Parse accepts both table shapes: a dict of food id to record, and the
// legacy list of records carrying their own id or name field.
func Parse(data []byte, logger *zap.Logger) (*Mapper, error) {
	m := &Mapper{
		records:    make(map[string]Record),
		byCategory: make(map[string][]string),
	}

	var dict map[string]json.RawMessage
	if err := json.Unmarshal(data, &dict); err == nil {
		for id, raw := range dict {
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				m.skip(logger, id, "undecodable record", err)
				continue
			}
			m.add(logger, id, rec)
		}
	} else {
		var entries []json.RawMessage
		if listErr := json.Unmarshal(data, &entries); listErr != nil {
			return nil, fmt.Errorf("nutrition table is neither a dict nor a list of records: %w", err)
		}
		for i, raw := range entries {
			var entry listRecord
			if err := json.Unmarshal(raw, &entry); err != nil {
				m.skip(logger, fmt.Sprintf("entry %d", i), "undecodable record", err)
				continue
			}
			id := entry.ID
			if id == "" {
				id = entry.Name
			}
			if id == "" {
				m.skip(logger, fmt.Sprintf("entry %d", i), "missing id", nil)
				continue
			}
			m.add(logger, id, entry.Record)
		}
	}

	for _, ids := range m.byCategory {
		sort.Strings(ids)
	}

	logger.Info("Loaded nutrition table",
		zap.Int("foods", len(m.records)),
		zap.Int("skipped", m.skipped))

	return m, nil
}

func (m *Mapper) add(logger *zap.Logger, id string, rec Record) {
	if rec.Category == "" {
		m.skip(logger, id, "missing category", nil)
		return
	}
	if !validCategory(rec.Category) {
		m.skip(logger, id, "unknown category "+rec.Category, nil)
		return
	}
	if _, dup := m.records[id]; dup {
		m.skip(logger, id, "duplicate id", nil)
		return
	}
	m.records[id] = rec
	m.byCategory[rec.Category] = append(m.byCategory[rec.Category], id)
}

func (m *Mapper) skip(logger *zap.Logger, id, reason string, err error) {
	m.skipped++
	fields := []zap.Field{zap.String("entry", id), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Warn("Skipping malformed nutrition entry", fields...)
}

func validCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Lookup returns the record for a food id.
func (m *Mapper) Lookup(foodID string) (Record, bool) {
	rec, ok := m.records[foodID]
	return rec, ok
}

// Len returns the number of loaded foods.
func (m *Mapper) Len() int {
	return len(m.records)
}

// Skipped returns how many table entries were dropped during parsing.
func (m *Mapper) Skipped() int {
	return m.skipped
}

// SuggestionsFor returns up to n food ids from a category, in stable order.
func (m *Mapper) SuggestionsFor(category string, n int) []string {
	ids := m.byCategory[category]
	if len(ids) > n {
		ids = ids[:n]
	}
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
