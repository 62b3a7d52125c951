// Package knowledge provides the keyword-indexed knowledge store backing
// retrieval-augmented generation.
package knowledge

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// minChunkLen filters out fragments too short to be useful context.
const minChunkLen = 20

// Result is one retrieval hit.
type Result struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Status summarizes the index.
type Status struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Provider  string `json:"provider"`
}

// Store is a SQLite-backed keyword store. Retrieval is a deliberate naive
// substring match with a constant score; callers depend on that observed
// ranking behavior, so it stays the documented baseline rather than a real
// relevance signal.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open creates or opens the store at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}
	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "knowledge").Logger(),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT,
			content TEXT,
			metadata TEXT
		)`); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if _, err := s.db.Exec(
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(content, content_id UNINDEXED)`); err != nil {
		return fmt.Errorf("init fts schema: %w", err)
	}
	return nil
}

// Ingest splits content into paragraph chunks and indexes each one under
// source.
func (s *Store) Ingest(source, content string, metadata map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, raw := range strings.Split(content, "\n\n") {
		chunk := strings.TrimSpace(raw)
		if len(chunk) <= minChunkLen {
			continue
		}
		res, err := tx.Exec(
			`INSERT INTO knowledge_chunks (source, content, metadata) VALUES (?, ?, ?)`,
			source, chunk, fmt.Sprint(metadata))
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("chunk id: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO fts_chunks (content, content_id) VALUES (?, ?)`, chunk, id); err != nil {
			return fmt.Errorf("index chunk: %w", err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}

	s.logger.Info().Str("source", source).Int("chunks", count).Msg("ingested document")
	return nil
}

// Retrieve returns up to topK chunks containing query as a substring. The
// score is a placeholder constant, not a relevance signal.
func (s *Store) Retrieve(query string, topK int) []Result {
	if topK <= 0 {
		topK = 3
	}
	rows, err := s.db.Query(
		`SELECT source, content FROM knowledge_chunks WHERE content LIKE ? LIMIT ?`,
		"%"+query+"%", topK)
	if err != nil {
		s.logger.Warn().Err(err).Msg("retrieval query failed")
		return nil
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Source, &r.Content); err != nil {
			s.logger.Warn().Err(err).Msg("retrieval scan failed")
			continue
		}
		r.Score = 1.0
		results = append(results, r)
	}
	return results
}

// GetStatus reports index statistics.
func (s *Store) GetStatus() Status {
	st := Status{Status: "Indexed", Provider: "SQLite (Keyword Search)"}
	row := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge_chunks`)
	if err := row.Scan(&st.Chunks); err != nil {
		st.Status = "Error: " + err.Error()
		return st
	}
	st.Documents = st.Chunks
	return st
}

// Clear wipes the index.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM knowledge_chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM fts_chunks`); err != nil {
		return fmt.Errorf("clear fts index: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
