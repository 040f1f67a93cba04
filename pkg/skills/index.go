package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IndexEntry describes one named skill in the catalogue index.
type IndexEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

// Index is the named-skills catalogue loaded from skills_index.json in the
// skill directory. The planner resolves @name references against it and the
// skills operator command searches it.
type Index struct {
	entries []IndexEntry
}

// LoadIndex reads the catalogue. A missing index file yields an empty,
// usable index; @name lookups then simply miss.
func LoadIndex(dir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, "skills_index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{}, nil
		}
		return nil, fmt.Errorf("read skills index: %w", err)
	}

	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse skills index: %w", err)
	}
	return &Index{entries: entries}, nil
}

// Len reports how many skills the index knows.
func (x *Index) Len() int { return len(x.entries) }

// All returns every entry in catalogue order.
func (x *Index) All() []IndexEntry {
	return append([]IndexEntry(nil), x.entries...)
}

// SkillName returns the loader name for this entry, derived from its skill
// file path. The planner hands this straight to the dispatcher.
func (e IndexEntry) SkillName() string {
	base := filepath.Base(e.Path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		return e.ID
	}
	return name
}

// ByName finds an entry by case-insensitive ID or name match.
func (x *Index) ByName(name string) (IndexEntry, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, e := range x.entries {
		if strings.ToLower(e.ID) == name || strings.ToLower(e.Name) == name {
			return e, true
		}
	}
	return IndexEntry{}, false
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "for": {}, "and": {}, "or": {}, "of": {},
	"to": {}, "on": {}, "in": {}, "with": {}, "my": {}, "me": {}, "do": {},
}

// FindRelevant scores entries against the query: a name hit counts 3, a
// description hit 1, per query word. Entries scoring at least 2 come back
// best-first.
func (x *Index) FindRelevant(query string) []IndexEntry {
	words := strings.Fields(strings.ToLower(query))

	type scored struct {
		entry IndexEntry
		score int
	}
	var hits []scored
	for _, e := range x.entries {
		name := strings.ToLower(e.Name + " " + e.ID)
		desc := strings.ToLower(e.Description)
		score := 0
		for _, w := range words {
			if _, stop := stopWords[w]; stop || len(w) < 3 {
				continue
			}
			if strings.Contains(name, w) {
				score += 3
			} else if strings.Contains(desc, w) {
				score++
			}
		}
		if score >= 2 {
			hits = append(hits, scored{e, score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]IndexEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}
