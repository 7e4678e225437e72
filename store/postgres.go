package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"n3master/dbx"
	"n3master/models"
	"n3master/store/migrations"
)

const pgUniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// OpenPostgres connects through the pgx driver and brings the schema up to
// date.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func (s *PostgresStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, password_hash, created_at FROM app_users WHERE username = $1`

	var u models.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	query := `INSERT INTO app_users (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)`

	u := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.PasswordHash, u.CreatedAt); err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetProgress(ctx context.Context, userID string) (*models.ProgressRow, error) {
	return getPgProgress(ctx, s.db, userID, false)
}

func getPgProgress(ctx context.Context, q dbx.DBTX, userID string, lock bool) (*models.ProgressRow, error) {
	query := `SELECT mastered_vocab_ids, favorite_vocab_ids, mastered_grammar_ids, updated_at
		FROM user_progress WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var mastered, favorite, grammar []byte
	row := &models.ProgressRow{UserID: userID}
	err := q.QueryRowContext(ctx, query, userID).Scan(&mastered, &favorite, &grammar, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	row.Progress = rawProgress(mastered, favorite, grammar)
	return row, nil
}

func (s *PostgresStore) UpsertProgress(ctx context.Context, userID string, p models.Progress, updatedAt time.Time) error {
	cols, err := encodeProgress(p)
	if err != nil {
		return err
	}

	query := `INSERT INTO user_progress (user_id, mastered_vocab_ids, favorite_vocab_ids, mastered_grammar_ids, updated_at)
		VALUES ($1, $2::jsonb, $3::jsonb, $4::jsonb, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			mastered_vocab_ids = EXCLUDED.mastered_vocab_ids,
			favorite_vocab_ids = EXCLUDED.favorite_vocab_ids,
			mastered_grammar_ids = EXCLUDED.mastered_grammar_ids,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query, userID, cols.MasteredVocab, cols.FavoriteVocab, cols.MasteredGrammar, stamp(updatedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// UpdateProgress locks the row for the duration of fn so concurrent toggles
// on the same user serialize instead of losing writes.
func (s *PostgresStore) UpdateProgress(ctx context.Context, userID string, fn func(models.Progress) models.Progress, updatedAt time.Time) (models.Progress, error) {
	var next models.Progress
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_progress (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		row, err := getPgProgress(ctx, tx, userID, true)
		if err != nil {
			return err
		}

		next = models.Normalize(fn(models.Normalize(row.Progress)))
		cols, err := encodeProgress(next)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE user_progress
			SET mastered_vocab_ids = $2::jsonb, favorite_vocab_ids = $3::jsonb, mastered_grammar_ids = $4::jsonb, updated_at = $5
			WHERE user_id = $1`,
			userID, cols.MasteredVocab, cols.FavoriteVocab, cols.MasteredGrammar, stamp(updatedAt))
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Progress{}, err
	}
	return next, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
