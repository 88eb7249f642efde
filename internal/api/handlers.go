// Package api exposes the HTTP boundary of the sync service.
package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/runnershigh/stravasync/internal/auth"
	"github.com/runnershigh/stravasync/internal/domain"
	"github.com/runnershigh/stravasync/internal/export"
	"github.com/runnershigh/stravasync/internal/webhook"
)

// OAuthExchanger is the consent-flow slice of the provider client.
type OAuthExchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.TokenGrant, error)
}

// EventDispatcher accepts webhook deliveries for asynchronous processing.
type EventDispatcher interface {
	Dispatch(event domain.ActivityEvent)
}

// ExportService drives background activity exports.
type ExportService interface {
	Start(userID int64) error
	Status(userID int64) (export.Status, error)
	Result(ctx context.Context, userID int64) ([]byte, error)
}

// Handler coordinates HTTP requests with the core services.
type Handler struct {
	oauth       OAuthExchanger
	store       domain.CredentialRepository
	dispatcher  EventDispatcher
	exports     ExportService
	verifyToken string
	session     auth.Config
	validate    *validator.Validate
	logger      *log.Logger
}

// HandlerConfig wires the Handler's collaborators.
type HandlerConfig struct {
	OAuth       OAuthExchanger
	Store       domain.CredentialRepository
	Dispatcher  EventDispatcher
	Exports     ExportService
	VerifyToken string
	Session     auth.Config
	Logger      *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	return &Handler{
		oauth:       cfg.OAuth,
		store:       cfg.Store,
		dispatcher:  cfg.Dispatcher,
		exports:     cfg.Exports,
		verifyToken: cfg.VerifyToken,
		session:     cfg.Session,
		validate:    validator.New(),
		logger:      logger,
	}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)
	r.Get("/auth", h.beginAuth)
	r.Get("/auth/callback", h.completeAuth)
	r.Get("/webhook", h.verifyWebhook)
	r.Post("/webhook", h.deliverWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(h.session).Wrap)
		r.Put("/v1/preferences", h.updatePreferences)
		r.Post("/v1/exports", h.startExport)
		r.Get("/v1/exports/status", h.exportStatus)
		r.Get("/v1/exports/download", h.downloadExport)
	})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// beginAuth redirects the user to the provider consent page with a state
// cookie guarding the callback.
func (h *Handler) beginAuth(w http.ResponseWriter, r *http.Request) {
	state := generateState()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// completeAuth exchanges the authorization code, stores the credential and
// hands back a session token. This is the only path that creates a
// Credential; failures here are shown to the human completing consent.
func (h *Handler) completeAuth(w http.ResponseWriter, r *http.Request) {
	if err := validateOAuthState(r); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing code parameter")
		return
	}

	grant, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		var exchangeErr *domain.ExchangeError
		if errors.As(err, &exchangeErr) {
			writeError(w, http.StatusBadRequest, "exchange_failed", string(exchangeErr.Body))
			return
		}
		h.logger.Printf("code exchange error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "token exchange failed")
		return
	}

	if err := h.store.UpsertCredential(r.Context(), grant.AthleteID, grant.AccessToken, grant.RefreshToken, grant.ExpiresAt); err != nil {
		h.logger.Printf("store credential error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "unable to store credential")
		return
	}

	token, err := auth.Sign(grant.AthleteID, h.session)
	if err != nil {
		h.logger.Printf("session sign error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "unable to create session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":       grant.AthleteID,
		"session_token": token,
	})
}

// verifyWebhook answers the provider's subscription challenge.
func (h *Handler) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if !webhook.VerifyToken(h.verifyToken, token) {
		writeError(w, http.StatusForbidden, "verify_failed", "verify token mismatch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// deliverWebhook accepts an event and acknowledges immediately; processing
// happens off the request path and its outcome is invisible to the provider.
func (h *Handler) deliverWebhook(w http.ResponseWriter, r *http.Request) {
	var event domain.ActivityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse event")
		return
	}

	h.dispatcher.Dispatch(event)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// preferencesRequest uses pointers so absent fields fail validation instead
// of silently disabling an action.
type preferencesRequest struct {
	Annotate *bool `json:"annotate" validate:"required"`
	Archive  *bool `json:"archive" validate:"required"`
}

// updatePreferences persists the action flags for the session user.
func (h *Handler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	prefs := domain.Preferences{Annotate: *req.Annotate, Archive: *req.Archive}
	if err := h.store.SetPreferences(r.Context(), claims.UserID, prefs); err != nil {
		if errors.Is(err, domain.ErrCredentialAbsent) {
			writeError(w, http.StatusNotFound, "not_found", "user is not authenticated with the provider")
			return
		}
		h.logger.Printf("set preferences error (user=%d): %v", claims.UserID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "unable to store preferences")
		return
	}

	writeJSON(w, http.StatusOK, prefs)
}

// startExport kicks off a background activity export for the session user.
func (h *Handler) startExport(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	if err := h.exports.Start(claims.UserID); err != nil {
		if errors.Is(err, domain.ErrExportInProgress) {
			writeError(w, http.StatusConflict, "export_in_progress", "an export is already running for this user")
			return
		}
		h.logger.Printf("start export error (user=%d): %v", claims.UserID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "unable to start export")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "started",
		"status_url": "/v1/exports/status",
	})
}

// exportStatus returns the poll view of the session user's export job.
func (h *Handler) exportStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	status, err := h.exports.Status(claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrExportNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no export recorded for this user")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "unable to read export status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// downloadExport streams the finished export file.
func (h *Handler) downloadExport(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	data, err := h.exports.Result(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrExportNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no finished export for this user")
			return
		}
		h.logger.Printf("download export error (user=%d): %v", claims.UserID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "unable to read export")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("strava_runs_%d.json", claims.UserID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func generateState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "fallback-state"
	}
	return base64.URLEncoding.EncodeToString(b)
}

func validateOAuthState(r *http.Request) error {
	cookie, err := r.Cookie("oauth_state")
	if err != nil {
		return errors.New("missing oauth_state cookie")
	}
	state := r.URL.Query().Get("state")
	if state == "" || state != cookie.Value {
		return errors.New("state mismatch")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
