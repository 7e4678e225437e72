package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"n3master/auth"
	"n3master/crypto"
	"n3master/logging"
	"n3master/models"
	"n3master/store"

	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory store.Store with failure injection. It does not
// implement store.ProgressUpdater; wrap it in atomicStore for that.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	progress map[string]any
	nextID   int

	findErr   error
	insertErr error
	getErr    error
	upsertErr error

	upserts int
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*models.User{}, progress: map[string]any{}}
}

func (m *memStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) InsertUser(_ context.Context, username, hash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if _, ok := m.users[username]; ok {
		return nil, store.ErrConflict
	}
	m.nextID++
	u := &models.User{ID: fmt.Sprintf("u-%d", m.nextID), Username: username, PasswordHash: hash, CreatedAt: time.Now()}
	m.users[username] = u
	cp := *u
	return &cp, nil
}

func (m *memStore) GetProgress(_ context.Context, userID string) (*models.ProgressRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.progress[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &models.ProgressRow{UserID: userID, Progress: p}, nil
}

func (m *memStore) UpsertProgress(_ context.Context, userID string, p models.Progress, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	m.progress[userID] = models.Normalize(p)
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) stored(userID string) models.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.Normalize(m.progress[userID])
}

func (m *memStore) userID(username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[username]; ok {
		return u.ID
	}
	return ""
}

type atomicStore struct {
	*memStore
	updates int
}

func (a *atomicStore) UpdateProgress(_ context.Context, userID string, fn func(models.Progress) models.Progress, _ time.Time) (models.Progress, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.upsertErr != nil {
		return models.Progress{}, a.upsertErr
	}
	a.updates++
	next := models.Normalize(fn(models.Normalize(a.progress[userID])))
	a.progress[userID] = next
	return next, nil
}

type testEnv struct {
	store    *memStore
	hasher   *crypto.BcryptHasher
	codec    *auth.Codec
	auth     *AuthService
	progress *ProgressService
	migrate  *MigrationService
}

func newTestEnv(st store.Store, mem *memStore) *testEnv {
	hasher, err := crypto.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	codec, err := auth.NewCodec("service-test-secret", auth.DefaultLifetime)
	if err != nil {
		panic(err)
	}
	log := logging.Nop()
	authSvc := NewAuthService(st, hasher, codec, log)
	return &testEnv{
		store:    mem,
		hasher:   hasher,
		codec:    codec,
		auth:     authSvc,
		progress: NewProgressService(st, log),
		migrate:  NewMigrationService(st, hasher, authSvc, log),
	}
}

func newEnv() *testEnv {
	mem := newMemStore()
	return newTestEnv(mem, mem)
}

func newAtomicEnv() (*testEnv, *atomicStore) {
	mem := newMemStore()
	a := &atomicStore{memStore: mem}
	return newTestEnv(a, mem), a
}
