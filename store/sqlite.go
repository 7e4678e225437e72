package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"n3master/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS app_users (
	id TEXT PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_progress (
	user_id TEXT PRIMARY KEY,
	mastered_vocab_ids TEXT NOT NULL DEFAULT '[]',
	favorite_vocab_ids TEXT NOT NULL DEFAULT '[]',
	mastered_grammar_ids TEXT NOT NULL DEFAULT '[]',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES app_users(id) ON DELETE CASCADE
);
`

type SQLiteStore struct {
	db *sqlx.DB
}

type sqliteProgress struct {
	UserID          string    `db:"user_id"`
	MasteredVocab   []byte    `db:"mastered_vocab_ids"`
	FavoriteVocab   []byte    `db:"favorite_vocab_ids"`
	MasteredGrammar []byte    `db:"mastered_grammar_ids"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// OpenSQLite opens the database file at dsn (":memory:" works for tests)
// and creates the tables if needed.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer; one connection also keeps :memory: databases
	// alive and serializes UpdateProgress.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		"SELECT id, username, password_hash, created_at FROM app_users WHERE username = ?", username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) InsertUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO app_users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) GetProgress(ctx context.Context, userID string) (*models.ProgressRow, error) {
	return s.getProgress(ctx, s.db, userID)
}

func (s *SQLiteStore) getProgress(ctx context.Context, q sqlx.QueryerContext, userID string) (*models.ProgressRow, error) {
	var rec sqliteProgress
	err := sqlx.GetContext(ctx, q, &rec,
		`SELECT user_id, mastered_vocab_ids, favorite_vocab_ids, mastered_grammar_ids, updated_at
		 FROM user_progress WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &models.ProgressRow{
		UserID:    rec.UserID,
		Progress:  rawProgress(rec.MasteredVocab, rec.FavoriteVocab, rec.MasteredGrammar),
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func (s *SQLiteStore) UpsertProgress(ctx context.Context, userID string, p models.Progress, updatedAt time.Time) error {
	return s.upsertProgress(ctx, s.db, userID, p, updatedAt)
}

func (s *SQLiteStore) upsertProgress(ctx context.Context, e sqlx.ExecerContext, userID string, p models.Progress, updatedAt time.Time) error {
	cols, err := encodeProgress(p)
	if err != nil {
		return err
	}
	_, err = e.ExecContext(ctx,
		`INSERT INTO user_progress (user_id, mastered_vocab_ids, favorite_vocab_ids, mastered_grammar_ids, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			mastered_vocab_ids = excluded.mastered_vocab_ids,
			favorite_vocab_ids = excluded.favorite_vocab_ids,
			mastered_grammar_ids = excluded.mastered_grammar_ids,
			updated_at = excluded.updated_at`,
		userID, cols.MasteredVocab, cols.FavoriteVocab, cols.MasteredGrammar, stamp(updatedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, userID string, fn func(models.Progress) models.Progress, updatedAt time.Time) (models.Progress, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Progress{}, fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	current := models.EmptyProgress()
	row, err := s.getProgress(ctx, tx, userID)
	switch {
	case err == nil:
		current = models.Normalize(row.Progress)
	case !errors.Is(err, ErrNotFound):
		return models.Progress{}, err
	}

	next := models.Normalize(fn(current))
	if err := s.upsertProgress(ctx, tx, userID, next, updatedAt); err != nil {
		return models.Progress{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Progress{}, fmt.Errorf("db error: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
