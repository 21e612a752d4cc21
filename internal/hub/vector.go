package hub

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/batalabs/knowd/internal/domain"

	_ "modernc.org/sqlite"
)

// VectorDoc is one indexed document. KBID and UserID scope the document;
// zero values mean it is shared.
type VectorDoc struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Metadata string  `json:"metadata,omitempty"`
	KBID     string  `json:"kb_id,omitempty"`
	UserID   int64   `json:"user_id,omitempty"`
	Score    float64 `json:"score,omitempty"` // search results only
}

// SearchScope narrows a search. Zero fields match everything; a document
// with a zero user id is shared and visible to every user.
type SearchScope struct {
	KBID   string
	UserID int64
}

func (s SearchScope) admits(d VectorDoc) bool {
	if s.KBID != "" && d.KBID != s.KBID {
		return false
	}
	if s.UserID != 0 && d.UserID != 0 && d.UserID != s.UserID {
		return false
	}
	return true
}

// VectorIndex is a sqlite-backed document index. Ranking is a token
// overlap score; documents keep a precomputed token column so that
// reindexing is explicit rather than per-query.
type VectorIndex struct {
	db *sql.DB
}

// OpenVectorIndex opens (or creates) the index database at path.
func OpenVectorIndex(path string) (*VectorIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping vector db: %w", err)
	}
	if err := migrateVectors(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate vector db: %w", err)
	}
	return &VectorIndex{db: db}, nil
}

func migrateVectors(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '',
			kb_id TEXT NOT NULL DEFAULT '',
			user_id INTEGER NOT NULL DEFAULT 0,
			tokens TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`)
	return err
}

// Close releases the database handle.
func (v *VectorIndex) Close() error { return v.db.Close() }

// Add inserts documents. Empty IDs get generated ones; an existing ID is
// an error (use Update).
func (v *VectorIndex) Add(docs []VectorDoc) ([]string, error) {
	tx, err := v.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var ids []string
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			return nil, domain.Errf(domain.KindInputRejected, "document content must not be empty")
		}
		if d.ID == "" {
			d.ID = domain.NewUUID()
		}
		_, err := tx.Exec(
			`INSERT INTO documents (id, content, metadata, kb_id, user_id, tokens) VALUES (?, ?, ?, ?, ?, ?)`,
			d.ID, d.Content, d.Metadata, d.KBID, d.UserID, tokenString(d.Content),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return nil, domain.Errf(domain.KindInputRejected, "document %q already exists", d.ID)
			}
			return nil, fmt.Errorf("inserting document: %w", err)
		}
		ids = append(ids, d.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Update replaces the content and metadata of existing documents.
func (v *VectorIndex) Update(docs []VectorDoc) error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range docs {
		if d.ID == "" {
			return domain.Errf(domain.KindInputRejected, "document id is required")
		}
		res, err := tx.Exec(
			`UPDATE documents SET content = ?, metadata = ?, tokens = ? WHERE id = ?`,
			d.Content, d.Metadata, tokenString(d.Content), d.ID,
		)
		if err != nil {
			return fmt.Errorf("updating document: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return domain.Errf(domain.KindInputRejected, "no document named %q", d.ID)
		}
	}
	return tx.Commit()
}

// Delete removes documents by ID. Missing IDs are ignored; returns the
// number actually removed.
func (v *VectorIndex) Delete(ids []string) (int, error) {
	tx, err := v.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	removed := 0
	for _, id := range ids {
		res, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return removed, fmt.Errorf("deleting document: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, tx.Commit()
}

// Count returns the number of indexed documents.
func (v *VectorIndex) Count() (int, error) {
	var n int
	err := v.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Reindex recomputes the token column from the stored content.
func (v *VectorIndex) Reindex() (int, error) {
	rows, err := v.db.Query(`SELECT id, content FROM documents`)
	if err != nil {
		return 0, err
	}
	type pair struct{ id, content string }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.id, &p.content); err != nil {
			rows.Close()
			return 0, err
		}
		pairs = append(pairs, p)
	}
	rows.Close()

	for _, p := range pairs {
		if _, err := v.db.Exec(`UPDATE documents SET tokens = ? WHERE id = ?`, tokenString(p.content), p.id); err != nil {
			return 0, err
		}
	}
	return len(pairs), nil
}

// Search ranks documents by token overlap with the query and returns the
// top k within the scope. Documents with no overlap are omitted.
func (v *VectorIndex) Search(query string, topK int, scope SearchScope) ([]VectorDoc, error) {
	qt := tokenize(query)
	if len(qt) == 0 {
		return nil, nil
	}
	qset := map[string]bool{}
	for _, t := range qt {
		qset[t] = true
	}

	rows, err := v.db.Query(`SELECT id, content, metadata, kb_id, user_id, tokens FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []VectorDoc
	for rows.Next() {
		var d VectorDoc
		var tokens string
		if err := rows.Scan(&d.ID, &d.Content, &d.Metadata, &d.KBID, &d.UserID, &tokens); err != nil {
			return nil, err
		}
		if !scope.admits(d) {
			continue
		}
		docTokens := strings.Fields(tokens)
		if len(docTokens) == 0 {
			continue
		}
		overlap := 0
		seen := map[string]bool{}
		for _, t := range docTokens {
			if qset[t] && !seen[t] {
				overlap++
				seen[t] = true
			}
		}
		if overlap == 0 {
			continue
		}
		d.Score = float64(overlap) / float64(len(qset))
		hits = append(hits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases and splits into alphanumeric runs, dropping
// single-character noise.
func tokenize(s string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(s), -1)
	var out []string
	for _, t := range raw {
		if len(t) > 1 {
			out = append(out, t)
		}
	}
	return out
}

func tokenString(content string) string {
	seen := map[string]bool{}
	var uniq []string
	for _, t := range tokenize(content) {
		if !seen[t] {
			seen[t] = true
			uniq = append(uniq, t)
		}
	}
	return strings.Join(uniq, " ")
}
