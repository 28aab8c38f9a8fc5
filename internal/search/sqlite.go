package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	defaultBatchSize = 500
	defaultLimit     = 20
	maxLimit         = 100
)

const schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS links_fts USING fts5(
	collection_id UNINDEXED,
	url,
	title,
	description,
	tokenize='porter unicode61'
);`

// SQLiteIndex implements Index with an SQLite FTS5 table. The rowid of each
// document is the link id.
type SQLiteIndex struct {
	db        *sql.DB
	batchSize int
	log       logrus.FieldLogger
}

// NewSQLiteIndex opens (or creates) the index database at path.
// Use ":memory:" for a throwaway index.
func NewSQLiteIndex(path string, batchSize int, logger logrus.FieldLogger) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open search index at %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create search index schema: %w", err)
	}

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &SQLiteIndex{
		db:        db,
		batchSize: batchSize,
		log:       logger.WithField("component", "search_index"),
	}, nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) IndexDocument(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to index link %d: %w", doc.LinkID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM links_fts WHERE rowid = ?`, doc.LinkID); err != nil {
		return fmt.Errorf("failed to index link %d: %w", doc.LinkID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO links_fts(rowid, collection_id, url, title, description) VALUES (?, ?, ?, ?, ?)`,
		doc.LinkID, doc.CollectionID, doc.URL, doc.Title, doc.Description)
	if err != nil {
		return fmt.Errorf("failed to index link %d: %w", doc.LinkID, err)
	}
	return tx.Commit()
}

// DeleteDocuments removes documents in batches of batchSize ids.
func (s *SQLiteIndex) DeleteDocuments(ctx context.Context, linkIDs []int64) error {
	for start := 0; start < len(linkIDs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(linkIDs) {
			end = len(linkIDs)
		}
		batch := linkIDs[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM links_fts WHERE rowid IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("failed to delete %d search documents: %w", len(batch), err)
		}
		n, _ := res.RowsAffected()
		s.log.WithFields(logrus.Fields{
			"requested": len(batch),
			"deleted":   n,
		}).Debug("Deleted search documents")
	}
	return nil
}

// Search runs an FTS5 MATCH query ranked by bm25.
func (s *SQLiteIndex) Search(ctx context.Context, query string, limit int) ([]int64, error) {
	match := matchExpr(query)
	if match == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid FROM links_fts WHERE links_fts MATCH ? ORDER BY rank LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// matchExpr turns free text into an FTS5 expression that requires every word.
// Each word is quoted so user punctuation is never parsed as query syntax.
func matchExpr(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " ")
}
