package handlers

import (
	"context"
	"net/http"

	"n3master/models"
	"n3master/service"
)

type progressResponse struct {
	OK       bool            `json:"ok"`
	Progress models.Progress `json:"progress"`
}

type summaryResponse struct {
	OK      bool           `json:"ok"`
	Summary models.Summary `json:"summary"`
}

type migrationResponse struct {
	OK           bool              `json:"ok"`
	CreatedCount int               `json:"createdCount"`
	Skipped      []service.Skipped `json:"skipped"`
}

func (s *Server) ReadProgressHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.progress.Read(r.Context(), s.subject(r))
	if err != nil {
		sendError(w, r, err, readMessages)
		return
	}
	sendJSONResponse(w, http.StatusOK, progressResponse{OK: true, Progress: p})
}

// WriteProgressHandler replaces the caller's progress with body.progress.
// Any JSON value is accepted there; normalization decides what survives.
func (s *Server) WriteProgressHandler(w http.ResponseWriter, r *http.Request) {
	subject := s.subject(r)
	if subject == "" {
		sendError(w, r, service.ErrUnauthenticated, writeMessages)
		return
	}

	var input struct {
		Progress any `json:"progress"`
	}
	if err := decodeJSON(w, r, maxBodyBytes, &input); err != nil {
		badRequest(w, r)
		return
	}

	p, err := s.progress.Write(r.Context(), subject, input.Progress)
	if err != nil {
		sendError(w, r, err, writeMessages)
		return
	}
	sendJSONResponse(w, http.StatusOK, progressResponse{OK: true, Progress: p})
}

func (s *Server) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	sum, err := s.progress.Summary(r.Context(), s.subject(r))
	if err != nil {
		sendError(w, r, err, readMessages)
		return
	}
	sendJSONResponse(w, http.StatusOK, summaryResponse{OK: true, Summary: sum})
}

type progressItemOp func(ctx context.Context, subject, id string) (models.Progress, error)

// progressItemHandler adapts one single-item progress operation to a route
// carrying the item in its {id} segment.
func (s *Server) progressItemHandler(op progressItemOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := op(r.Context(), s.subject(r), r.PathValue("id"))
		if err != nil {
			sendError(w, r, err, writeMessages)
			return
		}
		sendJSONResponse(w, http.StatusOK, progressResponse{OK: true, Progress: p})
	}
}

// MigrateHandler imports accounts kept in the browser before server-side
// storage existed. Only a malformed body fails; bad records are reported in
// skipped.
func (s *Server) MigrateHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Users           map[string]service.LocalAccount `json:"users"`
		CurrentUsername any                             `json:"currentUsername"`
	}
	if err := decodeJSON(w, r, maxMigrationBodyBytes, &input); err != nil {
		badRequest(w, r)
		return
	}

	report := s.migration.Migrate(r.Context(), input.Users, asString(input.CurrentUsername))
	if report.Session != nil {
		s.cookie.Set(w, report.Session.Token)
	}
	sendJSONResponse(w, http.StatusOK, migrationResponse{OK: true, CreatedCount: report.Created, Skipped: report.Skipped})
}
