package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/csrf"

	"n3master/auth"
	"n3master/i18n"
	"n3master/logging"
	"n3master/service"
)

const (
	maxBodyBytes          = 1 << 20
	maxMigrationBodyBytes = 8 << 20
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	auth      *service.AuthService
	progress  *service.ProgressService
	migration *service.MigrationService
	store     Pinger
	cookie    auth.SessionCookie
	log       logging.Logger
}

func NewServer(authSvc *service.AuthService, progressSvc *service.ProgressService, migrationSvc *service.MigrationService, store Pinger, cookie auth.SessionCookie, log logging.Logger) *Server {
	return &Server{
		auth:      authSvc,
		progress:  progressSvc,
		migration: migrationSvc,
		store:     store,
		cookie:    cookie,
		log:       log,
	}
}

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", s.RegisterHandler)
	mux.HandleFunc("POST /api/auth/login", s.LoginHandler)
	mux.HandleFunc("GET /api/auth/me", s.MeHandler)
	mux.HandleFunc("POST /api/auth/logout", s.LogoutHandler)

	mux.HandleFunc("GET /api/progress", s.ReadProgressHandler)
	mux.HandleFunc("PATCH /api/progress", s.WriteProgressHandler)
	mux.HandleFunc("PUT /api/progress", s.WriteProgressHandler)
	mux.HandleFunc("GET /api/progress/summary", s.SummaryHandler)
	mux.HandleFunc("POST /api/progress/vocab/{id}/mastered", s.progressItemHandler(s.progress.AddMastered))
	mux.HandleFunc("DELETE /api/progress/vocab/{id}/mastered", s.progressItemHandler(s.progress.RemoveMastered))
	mux.HandleFunc("POST /api/progress/vocab/{id}/favorite", s.progressItemHandler(s.progress.ToggleFavorite))
	mux.HandleFunc("POST /api/progress/grammar/{id}/mastered", s.progressItemHandler(s.progress.ToggleMasteredGrammar))

	mux.HandleFunc("POST /api/migrate/localstorage", s.MigrateHandler)

	mux.HandleFunc("GET /healthz", s.HealthHandler)
}

type APIResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(dst)
}

func badRequest(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	sendJSONResponse(w, http.StatusBadRequest, APIResponse{OK: false, Message: i18n.T(lang, "InvalidRequestBody")})
}

// messageKeys picks the catalog entries for the errors whose wording depends
// on the operation.
type messageKeys struct {
	notFound  string
	transient string
}

var (
	registerMessages = messageKeys{notFound: "UserNotFound", transient: "RegisterFailed"}
	loginMessages    = messageKeys{notFound: "AccountNotFound", transient: "LoginFailed"}
	readMessages     = messageKeys{notFound: "UserNotFound", transient: "ReadProgressFailed"}
	writeMessages    = messageKeys{notFound: "UserNotFound", transient: "UpdateProgressFailed"}
)

func statusFor(err error, keys messageKeys) (int, string) {
	switch {
	case errors.Is(err, service.ErrPasswordTooLong):
		return http.StatusBadRequest, "PasswordTooLong"
	case errors.Is(err, service.ErrEmptyItemID):
		return http.StatusBadRequest, "InvalidItemID"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "CredentialsRequired"
	case errors.Is(err, service.ErrAlreadyExists):
		return http.StatusConflict, "UsernameAlreadyExists"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, keys.notFound
	case errors.Is(err, service.ErrBadCredentials):
		return http.StatusUnauthorized, "InvalidCredentials"
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized"
	default:
		return http.StatusInternalServerError, keys.transient
	}
}

func sendError(w http.ResponseWriter, r *http.Request, err error, keys messageKeys) {
	lang := i18n.DetectLanguage(r)
	status, key := statusFor(err, keys)
	sendJSONResponse(w, status, APIResponse{OK: false, Message: i18n.T(lang, key)})
}

// subject returns the signed-in username, or "" for anonymous requests.
func (s *Server) subject(r *http.Request) string {
	subject, _ := s.auth.CurrentIdentity(r.Context(), s.cookie.Token(r))
	return subject
}

// credentialsInput accepts any JSON types; non-strings count as empty.
type credentialsInput struct {
	Username any `json:"username"`
	Password any `json:"password"`
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var input credentialsInput
	if err := decodeJSON(w, r, maxBodyBytes, &input); err != nil {
		badRequest(w, r)
		return
	}

	sess, err := s.auth.Register(r.Context(), asString(input.Username), asString(input.Password))
	if err != nil {
		sendError(w, r, err, registerMessages)
		return
	}

	s.cookie.Set(w, sess.Token)
	lang := i18n.DetectLanguage(r)
	sendJSONResponse(w, http.StatusOK, APIResponse{OK: true, Message: i18n.T(lang, "RegisterSuccess")})
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var input credentialsInput
	if err := decodeJSON(w, r, maxBodyBytes, &input); err != nil {
		badRequest(w, r)
		return
	}

	sess, err := s.auth.Login(r.Context(), asString(input.Username), asString(input.Password))
	if err != nil {
		sendError(w, r, err, loginMessages)
		return
	}

	s.cookie.Set(w, sess.Token)
	lang := i18n.DetectLanguage(r)
	sendJSONResponse(w, http.StatusOK, APIResponse{OK: true, Message: i18n.T(lang, "LoginSuccess")})
}

type meResponse struct {
	OK       bool    `json:"ok"`
	Username *string `json:"username"`
}

// MeHandler never fails; anonymous callers get a null username. When CSRF
// protection is on, the token for follow-up writes rides along in a header.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	exposeCSRFToken(w, r)

	resp := meResponse{OK: true}
	if subject := s.subject(r); subject != "" {
		resp.Username = &subject
	}
	sendJSONResponse(w, http.StatusOK, resp)
}

// exposeCSRFToken is a no-op unless the CSRF middleware wraps the request.
func exposeCSRFToken(w http.ResponseWriter, r *http.Request) {
	if token := csrf.Token(r); token != "" {
		w.Header().Set("X-CSRF-Token", token)
	}
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	s.cookie.Clear(w)
	lang := i18n.DetectLanguage(r)
	sendJSONResponse(w, http.StatusOK, APIResponse{OK: true, Message: i18n.T(lang, "LoggedOut")})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.Error(ctx, "health check failed", "err", err)
		lang := i18n.DetectLanguage(r)
		sendJSONResponse(w, http.StatusServiceUnavailable, APIResponse{OK: false, Message: i18n.T(lang, "ServiceUnavailable")})
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{OK: true})
}
