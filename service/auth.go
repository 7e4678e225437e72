package service

import (
	"context"
	"errors"

	"n3master/auth"
	"n3master/crypto"
	"n3master/logging"
	"n3master/models"
	"n3master/store"
)

// Session is what a successful register or login hands back to the caller:
// the normalized username and a signed token to put in the cookie.
type Session struct {
	Subject string
	Token   string
}

type AuthService struct {
	store  store.Store
	hasher crypto.PasswordHasher
	codec  *auth.Codec
	log    logging.Logger
}

func NewAuthService(st store.Store, hasher crypto.PasswordHasher, codec *auth.Codec, log logging.Logger) *AuthService {
	return &AuthService{store: st, hasher: hasher, codec: codec, log: log.With("component", "auth")}
}

// Register creates an account with an empty progress record and signs the
// new user in. The user insert and the progress insert are separate writes;
// a missing progress row is recreated on first read.
func (s *AuthService) Register(ctx context.Context, usernameRaw, passwordRaw string) (*Session, error) {
	username := auth.NormalizeUsername(usernameRaw)
	password := auth.NormalizePassword(passwordRaw)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	_, err := s.store.FindUserByUsername(ctx, username)
	switch {
	case err == nil:
		return nil, ErrAlreadyExists
	case !errors.Is(err, store.ErrNotFound):
		s.log.Error(ctx, "user lookup failed", "username", username, "err", err)
		return nil, ErrTransient
	}

	hash, err := s.hashPassword(ctx, password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.InsertUser(ctx, username, hash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyExists
		}
		s.log.Error(ctx, "user insert failed", "username", username, "err", err)
		return nil, ErrTransient
	}

	if err := s.store.UpsertProgress(ctx, user.ID, models.EmptyProgress(), timeNow()); err != nil {
		s.log.Error(ctx, "initial progress insert failed", "username", username, "err", err)
		return nil, ErrTransient
	}

	s.log.Info(ctx, "user registered", "username", username)
	return s.issue(ctx, username)
}

// Login checks the password of an existing account. An unknown username is
// reported as ErrNotFound so the client can suggest registering.
func (s *AuthService) Login(ctx context.Context, usernameRaw, passwordRaw string) (*Session, error) {
	username := auth.NormalizeUsername(usernameRaw)
	password := auth.NormalizePassword(passwordRaw)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		s.log.Error(ctx, "user lookup failed", "username", username, "err", err)
		return nil, ErrTransient
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.log.Error(ctx, "stored password hash is unusable", "username", username, "err", err)
		return nil, ErrTransient
	}
	if !ok {
		return nil, ErrBadCredentials
	}

	return s.issue(ctx, username)
}

// CurrentIdentity resolves a session token to its subject. It never fails:
// absent, malformed, forged and expired tokens are all anonymous.
func (s *AuthService) CurrentIdentity(ctx context.Context, token string) (string, bool) {
	subject, ok, reason := s.codec.Identify(token)
	if reason != nil {
		s.log.Info(ctx, "session token rejected", "reason", reason)
	}
	return subject, ok
}

// SessionFor signs a token for an already normalized username.
func (s *AuthService) SessionFor(ctx context.Context, username string) (*Session, error) {
	return s.issue(ctx, username)
}

func (s *AuthService) issue(ctx context.Context, username string) (*Session, error) {
	token, err := s.codec.Issue(username)
	if err != nil {
		s.log.Error(ctx, "session signing failed", "username", username, "err", err)
		return nil, ErrTransient
	}
	return &Session{Subject: username, Token: token}, nil
}

func (s *AuthService) hashPassword(ctx context.Context, password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, crypto.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		s.log.Error(ctx, "password hashing failed", "err", err)
		return "", ErrTransient
	}
	return hash, nil
}
