package service

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"n3master/auth"
	"n3master/crypto"
	"n3master/logging"
	"n3master/models"
	"n3master/store"
)

// LocalAccount is one account exported from the browser's local storage.
// Every field is optional and untrusted.
type LocalAccount struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Progress any    `json:"progress"`
}

// UnmarshalJSON keeps string credentials and drops anything else, so one bad
// record cannot reject the whole batch.
func (a *LocalAccount) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		*a = LocalAccount{}
		return nil
	}
	a.Username, _ = raw["username"].(string)
	a.Password, _ = raw["password"].(string)
	a.Progress = raw["progress"]
	return nil
}

// Skip reasons reported for records that were not imported.
const (
	SkipMissingCredentials = "missing_credentials"
	SkipExists             = "already_exists"
	SkipLookupFailed       = "lookup_failed"
	SkipHashFailed         = "hash_failed"
	SkipInsertFailed       = "insert_failed"
	SkipProgressFailed     = "progress_failed"
)

type Skipped struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

type MigrationReport struct {
	Created int
	Skipped []Skipped
	// Session is set when the current-username hint named an existing
	// account.
	Session *Session
}

type MigrationService struct {
	store  store.Store
	hasher crypto.PasswordHasher
	auth   *AuthService
	log    logging.Logger
}

func NewMigrationService(st store.Store, hasher crypto.PasswordHasher, authSvc *AuthService, log logging.Logger) *MigrationService {
	return &MigrationService{store: st, hasher: hasher, auth: authSvc, log: log.With("component", "migration")}
}

// Migrate imports local accounts one at a time, in key order. A record is
// counted only when both the account and its progress were stored; all
// other outcomes are reported as skipped. Existing accounts are never
// modified.
func (s *MigrationService) Migrate(ctx context.Context, accounts map[string]LocalAccount, currentUsername string) MigrationReport {
	report := MigrationReport{Skipped: []Skipped{}}

	keys := make([]string, 0, len(accounts))
	for k := range accounts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if reason := s.importOne(ctx, accounts[key]); reason != "" {
			report.Skipped = append(report.Skipped, Skipped{Key: key, Reason: reason})
			continue
		}
		report.Created++
	}

	if hint := auth.NormalizeUsername(currentUsername); hint != "" {
		if _, err := s.store.FindUserByUsername(ctx, hint); err == nil {
			if sess, err := s.auth.SessionFor(ctx, hint); err == nil {
				report.Session = sess
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn(ctx, "current user lookup failed", "username", hint, "err", err)
		}
	}

	s.log.Info(ctx, "local accounts migrated", "created", report.Created, "skipped", len(report.Skipped))
	return report
}

func (s *MigrationService) importOne(ctx context.Context, acc LocalAccount) string {
	username := auth.NormalizeUsername(acc.Username)
	password := auth.NormalizePassword(acc.Password)
	if username == "" || password == "" {
		return SkipMissingCredentials
	}

	_, err := s.store.FindUserByUsername(ctx, username)
	switch {
	case err == nil:
		return SkipExists
	case !errors.Is(err, store.ErrNotFound):
		s.log.Warn(ctx, "user lookup failed", "username", username, "err", err)
		return SkipLookupFailed
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.log.Warn(ctx, "password hashing failed", "username", username, "err", err)
		return SkipHashFailed
	}

	user, err := s.store.InsertUser(ctx, username, hash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return SkipExists
		}
		s.log.Warn(ctx, "user insert failed", "username", username, "err", err)
		return SkipInsertFailed
	}

	if err := s.store.UpsertProgress(ctx, user.ID, models.Normalize(acc.Progress), timeNow()); err != nil {
		s.log.Warn(ctx, "progress insert failed", "username", username, "err", err)
		return SkipProgressFailed
	}
	return ""
}
