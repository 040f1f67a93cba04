package artifacts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hexclaw/hexclaw/pkg/log"
)

// WriteMode selects what StoreRecords does with an existing artifact.
type WriteMode int

const (
	Overwrite WriteMode = iota
	Append
)

// Ext is the artifact file extension. Each artifact is one SQLite file
// holding a single table named "data" whose columns are the union of record
// keys seen at write time.
const Ext = ".db"

// Store manages per-job columnar artifacts under a data root:
// <root>/<job_id>/<artifact>.db.
type Store struct {
	root string
}

// NewStore creates a store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the data root directory.
func (s *Store) Root() string { return s.root }

// Path returns the file path of one artifact.
func (s *Store) Path(jobID, artifact string) string {
	return filepath.Join(s.root, jobID, artifact+Ext)
}

// StoreRecords writes records to the artifact at path. Overwrite recreates
// the table; Append unions the existing rows and columns with the new ones
// and rewrites. Missing keys become NULL. Returns the post-write row count.
func (s *Store) StoreRecords(path string, records []map[string]any, mode WriteMode) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create artifact dir: %w", err)
	}

	rows := records
	if mode == Append {
		existing, err := s.Query(path, "")
		if err == nil {
			rows = append(existing, records...)
		}
	}

	cols := unionColumns(rows)
	if len(cols) == 0 {
		return 0, fmt.Errorf("no columns derivable from %d records", len(records))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin artifact write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DROP TABLE IF EXISTS data`); err != nil {
		return 0, fmt.Errorf("drop artifact table: %w", err)
	}
	// Untyped columns keep SQLite's dynamic typing, so ports stay integers.
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	if _, err := tx.Exec(`CREATE TABLE data (` + strings.Join(quoted, ", ") + `)`); err != nil {
		return 0, fmt.Errorf("create artifact table: %w", err)
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	stmt, err := tx.Prepare(`INSERT INTO data (` + strings.Join(quoted, ", ") + `) VALUES ` + placeholders)
	if err != nil {
		return 0, fmt.Errorf("prepare artifact insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range rows {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = sqlValue(rec[c])
		}
		if _, err := stmt.Exec(args...); err != nil {
			return 0, fmt.Errorf("insert artifact row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit artifact write: %w", err)
	}
	return len(rows), nil
}

// Query opens the artifact at path and runs query against its "data" table.
// An empty query selects everything.
func (s *Store) Query(path, query string) ([]map[string]any, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("artifact not found: %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer db.Close()

	if query == "" {
		query = `SELECT * FROM data`
	}
	return runQuery(db, query)
}

// QueryGlob merges the rows of every artifact matching pattern (relative to
// the data root) into one in-memory "data" table and runs query over it.
func (s *Store) QueryGlob(pattern, query string) ([]map[string]any, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad artifact glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	logger := log.WithComponent("artifacts")
	var all []map[string]any
	for _, m := range matches {
		rows, err := s.Query(m, "")
		if err != nil {
			logger.Warn().Err(err).Str("file", m).Msg("Skipping unreadable artifact")
			continue
		}
		all = append(all, rows...)
	}
	if len(all) == 0 {
		return nil, nil
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open scratch db: %w", err)
	}
	defer db.Close()

	cols := unionColumns(all)
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = quoteIdent(c)
	}
	if _, err := db.Exec(`CREATE TABLE data (` + strings.Join(quotedCols, ", ") + `)`); err != nil {
		return nil, fmt.Errorf("create scratch table: %w", err)
	}
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	for _, rec := range all {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = sqlValue(rec[c])
		}
		if _, err := db.Exec(`INSERT INTO data (`+strings.Join(quotedCols, ", ")+`) VALUES `+placeholders, args...); err != nil {
			return nil, fmt.Errorf("fill scratch table: %w", err)
		}
	}

	if query == "" {
		query = `SELECT * FROM data`
	}
	return runQuery(db, query)
}

func runQuery(db *sql.DB, query string) ([]map[string]any, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("artifact query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("artifact query columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			switch v := vals[i].(type) {
			case []byte:
				rec[c] = string(v)
			default:
				rec[c] = v
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// unionColumns returns the sorted union of keys across records.
func unionColumns(records []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// sqlValue passes scalars through and JSON-encodes everything else.
func sqlValue(v any) any {
	switch v := v.(type) {
	case nil, string, int, int64, float64, bool, []byte:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
