package store

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"

	"n3master/models"
)

func newPostgresWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresStore(db), mock, db
}

const (
	qFindUser   = `(?s)^SELECT\s+id,\s*username,\s*password_hash,\s*created_at\s+FROM\s+app_users\s+WHERE\s+username\s*=\s*\$1$`
	qInsertUser = `(?s)^INSERT\s+INTO\s+app_users\s*\(id,\s*username,\s*password_hash,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)$`
	qGetProg    = `(?s)^SELECT\s+mastered_vocab_ids,\s*favorite_vocab_ids,\s*mastered_grammar_ids,\s*updated_at\s+FROM\s+user_progress\s+WHERE\s+user_id\s*=\s*\$1$`
	qLockProg   = `(?s)^SELECT\s+mastered_vocab_ids,.*WHERE\s+user_id\s*=\s*\$1\s+FOR\s+UPDATE$`
	qUpsertProg = `(?s)^INSERT\s+INTO\s+user_progress\s*\(user_id,.*ON\s+CONFLICT\s*\(user_id\)\s+DO\s+UPDATE\s+SET`
	qSeedProg   = `(?s)^INSERT\s+INTO\s+user_progress\s*\(user_id\)\s*VALUES\s*\(\$1\)\s*ON\s+CONFLICT\s*\(user_id\)\s*DO\s+NOTHING$`
	qUpdateProg = `(?s)^UPDATE\s+user_progress\s+SET\s+mastered_vocab_ids\s*=\s*\$2::jsonb`
)

func TestPostgresFindUser_Found(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}).
		AddRow("u-1", "kenji", "hash", created)
	mock.ExpectQuery(qFindUser).WithArgs("kenji").WillReturnRows(rows)

	got, err := s.FindUserByUsername(context.Background(), "kenji")
	if err != nil {
		t.Fatalf("FindUserByUsername error: %v", err)
	}
	if got.ID != "u-1" || got.PasswordHash != "hash" || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresFindUser_NotFound(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qFindUser).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	if _, err := s.FindUserByUsername(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresFindUser_DBError(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qFindUser).WithArgs("kenji").WillReturnError(errors.New("db down"))

	_, err := s.FindUserByUsername(context.Background(), "kenji")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestPostgresInsertUser_Success(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(qInsertUser).
		WithArgs(sqlmock.AnyArg(), "kenji", "hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := s.InsertUser(context.Background(), "kenji", "hash")
	if err != nil {
		t.Fatalf("InsertUser error: %v", err)
	}
	if u.ID == "" || u.Username != "kenji" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestPostgresInsertUser_UniqueViolation(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(qInsertUser).
		WithArgs(sqlmock.AnyArg(), "kenji", "hash", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "app_users_username_key"})

	if _, err := s.InsertUser(context.Background(), "kenji", "hash"); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestPostgresGetProgress(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"mastered_vocab_ids", "favorite_vocab_ids", "mastered_grammar_ids", "updated_at"}).
		AddRow([]byte(`["v1"]`), []byte(`["v2", 5]`), []byte(`{}`), at)
	mock.ExpectQuery(qGetProg).WithArgs("u-1").WillReturnRows(rows)

	row, err := s.GetProgress(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetProgress error: %v", err)
	}
	want := models.Progress{MasteredVocabIDs: []string{"v1"}, FavoriteVocabIDs: []string{"v2"}, MasteredGrammarIDs: []string{}}
	if got := models.Normalize(row.Progress); !reflect.DeepEqual(got, want) {
		t.Fatalf("want %+v, got %+v", want, got)
	}
	if row.UserID != "u-1" || !row.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestPostgresGetProgress_NotFound(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qGetProg).WithArgs("u-1").WillReturnError(sql.ErrNoRows)

	if _, err := s.GetProgress(context.Background(), "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresUpsertProgress(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(qUpsertProg).
		WithArgs("u-1", `["v1"]`, `[]`, `["g1"]`, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := models.Progress{MasteredVocabIDs: []string{"v1"}, MasteredGrammarIDs: []string{"g1"}}
	if err := s.UpsertProgress(context.Background(), "u-1", p, at); err != nil {
		t.Fatalf("UpsertProgress error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateProgress_LocksAndCommits(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(qSeedProg).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(qLockProg).WithArgs("u-1").WillReturnRows(
		sqlmock.NewRows([]string{"mastered_vocab_ids", "favorite_vocab_ids", "mastered_grammar_ids", "updated_at"}).
			AddRow([]byte(`[]`), []byte(`["v1"]`), []byte(`[]`), at))
	mock.ExpectExec(qUpdateProg).
		WithArgs("u-1", `[]`, `["v1","v2"]`, `[]`, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.UpdateProgress(context.Background(), "u-1", func(p models.Progress) models.Progress {
		return p.ToggleFavoriteVocab("v2")
	}, at)
	if err != nil {
		t.Fatalf("UpdateProgress error: %v", err)
	}
	if !reflect.DeepEqual(got.FavoriteVocabIDs, []string{"v1", "v2"}) {
		t.Fatalf("unexpected favorites: %v", got.FavoriteVocabIDs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateProgress_RollsBackOnError(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(qSeedProg).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qLockProg).WithArgs("u-1").WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := s.UpdateProgress(context.Background(), "u-1", func(p models.Progress) models.Progress { return p }, time.Time{})
	if err == nil || !regexp.MustCompile(`db error: .*lock timeout`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunMigrations_Success(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	if err := RunMigrations(context.Background(), db); err == nil {
		t.Fatal("expected error from migrations")
	}
}
