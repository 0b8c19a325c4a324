// Package words stores the curated secret-word list. The list is produced
// offline (a filtered frequency list, one "word,frequency" row per line) and
// imported into a local SQLite database; challenge creation picks a
// deterministic word per challenge number.
package words

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "modernc.org/sqlite"

	"wordmint/internal/migrate"
)

// ErrEmptyList means the word list was never imported.
var ErrEmptyList = errors.New("word list is empty")

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the word-list database and applies
// migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open word db %s: %w", path, err)
	}
	if err := migrate.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate word db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ImportCSV replaces the word list with the rows of a "word,frequency" CSV.
// Rank follows file order, most frequent first.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM words`); err != nil {
		return 0, fmt.Errorf("clear words: %w", err)
	}

	reader := csv.NewReader(r)
	rank := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read word list: %w", err)
		}
		if len(record) < 1 {
			continue
		}
		word := strings.ToLower(strings.TrimSpace(record[0]))
		if word == "" || word == "word" { // header row
			continue
		}
		rank++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO words(rank, word) VALUES (?, ?)`, rank, word); err != nil {
			return 0, fmt.Errorf("insert word %s: %w", word, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rank, nil
}

// Pick returns the secret word for a challenge number. The mapping is
// deterministic so a re-run after a crash picks the same word for the same
// number, and wraps around when the list is shorter than the challenge count.
func (s *Store) Pick(ctx context.Context, number int64) (string, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM words`).Scan(&count); err != nil {
		return "", fmt.Errorf("count words: %w", err)
	}
	if count == 0 {
		return "", ErrEmptyList
	}
	offset := (number - 1) % count
	if offset < 0 {
		offset += count
	}
	var word string
	err := s.db.QueryRowContext(ctx,
		`SELECT word FROM words ORDER BY rank LIMIT 1 OFFSET ?`, offset).Scan(&word)
	if err != nil {
		return "", fmt.Errorf("pick word for challenge %d: %w", number, err)
	}
	return word, nil
}

// Count reports the imported list size.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM words`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count words: %w", err)
	}
	return count, nil
}
