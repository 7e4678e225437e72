package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"n3master/logging"
	"n3master/models"
	"n3master/store"
)

var timeNow = time.Now

type ProgressService struct {
	store store.Store
	log   logging.Logger
}

func NewProgressService(st store.Store, log logging.Logger) *ProgressService {
	return &ProgressService{store: st, log: log.With("component", "progress")}
}

// Read returns the subject's progress, creating an empty record when none
// exists yet. Failing to persist that empty record does not fail the read.
func (s *ProgressService) Read(ctx context.Context, subject string) (models.Progress, error) {
	user, err := s.resolve(ctx, subject)
	if err != nil {
		return models.Progress{}, err
	}
	return s.current(ctx, user)
}

// Write replaces all three sets with the normalized form of raw and returns
// exactly what was written.
func (s *ProgressService) Write(ctx context.Context, subject string, raw any) (models.Progress, error) {
	user, err := s.resolve(ctx, subject)
	if err != nil {
		return models.Progress{}, err
	}

	p := models.Normalize(raw)
	if err := s.store.UpsertProgress(ctx, user.ID, p, timeNow()); err != nil {
		s.log.Error(ctx, "progress upsert failed", "username", user.Username, "err", err)
		return models.Progress{}, ErrTransient
	}
	return p, nil
}

func (s *ProgressService) AddMastered(ctx context.Context, subject, vocabID string) (models.Progress, error) {
	return s.update(ctx, subject, vocabID, models.Progress.AddMasteredVocab)
}

func (s *ProgressService) RemoveMastered(ctx context.Context, subject, vocabID string) (models.Progress, error) {
	return s.update(ctx, subject, vocabID, models.Progress.RemoveMasteredVocab)
}

func (s *ProgressService) ToggleFavorite(ctx context.Context, subject, vocabID string) (models.Progress, error) {
	return s.update(ctx, subject, vocabID, models.Progress.ToggleFavoriteVocab)
}

func (s *ProgressService) ToggleMasteredGrammar(ctx context.Context, subject, grammarID string) (models.Progress, error) {
	return s.update(ctx, subject, grammarID, models.Progress.ToggleMasteredGrammar)
}

func (s *ProgressService) Summary(ctx context.Context, subject string) (models.Summary, error) {
	p, err := s.Read(ctx, subject)
	if err != nil {
		return models.Summary{}, err
	}
	return p.Summary(), nil
}

func (s *ProgressService) resolve(ctx context.Context, subject string) (*models.User, error) {
	if subject == "" {
		return nil, ErrUnauthenticated
	}
	user, err := s.store.FindUserByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		s.log.Error(ctx, "user lookup failed", "username", subject, "err", err)
		return nil, ErrTransient
	}
	return user, nil
}

func (s *ProgressService) current(ctx context.Context, user *models.User) (models.Progress, error) {
	row, err := s.store.GetProgress(ctx, user.ID)
	if err == nil {
		return models.Normalize(row.Progress), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.log.Error(ctx, "progress read failed", "username", user.Username, "err", err)
		return models.Progress{}, ErrTransient
	}

	empty := models.EmptyProgress()
	if err := s.store.UpsertProgress(ctx, user.ID, empty, timeNow()); err != nil {
		s.log.Warn(ctx, "could not persist empty progress", "username", user.Username, "err", err)
	}
	return empty, nil
}

// update applies one set operation. Stores that implement ProgressUpdater do
// it atomically; otherwise it is a plain read-modify-write.
func (s *ProgressService) update(ctx context.Context, subject, id string, op func(models.Progress, string) models.Progress) (models.Progress, error) {
	user, err := s.resolve(ctx, subject)
	if err != nil {
		return models.Progress{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Progress{}, ErrEmptyItemID
	}

	apply := func(p models.Progress) models.Progress { return op(p, id) }

	if u, ok := s.store.(store.ProgressUpdater); ok {
		next, err := u.UpdateProgress(ctx, user.ID, apply, timeNow())
		if err != nil {
			s.log.Error(ctx, "progress update failed", "username", user.Username, "err", err)
			return models.Progress{}, ErrTransient
		}
		return next, nil
	}

	p, err := s.current(ctx, user)
	if err != nil {
		return models.Progress{}, err
	}
	next := apply(p)
	if err := s.store.UpsertProgress(ctx, user.ID, next, timeNow()); err != nil {
		s.log.Error(ctx, "progress upsert failed", "username", user.Username, "err", err)
		return models.Progress{}, ErrTransient
	}
	return next, nil
}
