// Package store persists accounts and their progress records. The services
// only see the Store interface; SQLite and PostgreSQL adapters implement it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"n3master/models"
)

var (
	// ErrNotFound means the requested row does not exist. It is not a failure
	// of the store itself.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by InsertUser when the username is taken,
	// including when a concurrent insert won the race.
	ErrConflict = errors.New("already exists")
)

type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	InsertUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetProgress(ctx context.Context, userID string) (*models.ProgressRow, error)
	// UpsertProgress inserts the row or replaces all three sets. A zero
	// updatedAt means now.
	UpsertProgress(ctx context.Context, userID string, p models.Progress, updatedAt time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

// ProgressUpdater is implemented by stores that can apply a change to a
// progress row atomically. fn receives the normalized current value (empty
// when the row is missing) and returns the value to store.
type ProgressUpdater interface {
	UpdateProgress(ctx context.Context, userID string, fn func(models.Progress) models.Progress, updatedAt time.Time) (models.Progress, error)
}

// Open connects to the store selected by driver and prepares its schema.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		s, err := OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

type progressColumns struct {
	MasteredVocab   string
	FavoriteVocab   string
	MasteredGrammar string
}

func encodeProgress(p models.Progress) (progressColumns, error) {
	p = models.Normalize(p)
	var cols progressColumns
	for _, f := range []struct {
		dst *string
		ids []string
	}{
		{&cols.MasteredVocab, p.MasteredVocabIDs},
		{&cols.FavoriteVocab, p.FavoriteVocabIDs},
		{&cols.MasteredGrammar, p.MasteredGrammarIDs},
	} {
		data, err := json.Marshal(f.ids)
		if err != nil {
			return progressColumns{}, err
		}
		*f.dst = string(data)
	}
	return cols, nil
}

// rawProgress rebuilds the untrusted progress value from stored columns.
// Columns that fail to decode come back as nil and normalize to empty sets.
func rawProgress(mastered, favorite, grammar []byte) map[string]any {
	return map[string]any{
		"mastered_vocab_ids":   decodeColumn(mastered),
		"favorite_vocab_ids":   decodeColumn(favorite),
		"mastered_grammar_ids": decodeColumn(grammar),
	}
}

func decodeColumn(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
