// Package httpapi exposes the REST surface of the service.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/madfam-io/madlab/internal/app/auth"
	"github.com/madfam-io/madlab/internal/app/domain/user"
	"github.com/madfam-io/madlab/internal/app/metrics"
	"github.com/madfam-io/madlab/internal/app/services/agents"
	"github.com/madfam-io/madlab/internal/app/services/comments"
	"github.com/madfam-io/madlab/internal/app/services/health"
	"github.com/madfam-io/madlab/internal/app/services/projects"
	"github.com/madfam-io/madlab/internal/app/services/schedule"
	"github.com/madfam-io/madlab/internal/app/services/tasks"
	"github.com/madfam-io/madlab/internal/app/services/users"
	"github.com/madfam-io/madlab/internal/app/services/waitlistsvc"
	"github.com/madfam-io/madlab/internal/middleware"
	"github.com/madfam-io/madlab/pkg/logger"
)

const maxBodyBytes = 1 << 20

// timeNow is a seam for schedule tests.
var timeNow = time.Now

// Services bundles everything the handler serves.
type Services struct {
	Users    *users.Service
	Projects *projects.Service
	Tasks    *tasks.Service
	Comments *comments.Service
	Waitlist *waitlistsvc.Service
	Agents   *agents.Service
	Schedule *schedule.Service
	Health   *health.Service
	Auth     *auth.Manager
	Events   http.Handler
	Metrics  *metrics.Registry
}

// Handler routes API requests to the services.
type Handler struct {
	svc Services
	log *logger.Logger
}

// New creates a handler over the given services.
func New(svc Services, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{svc: svc, log: log}
}

// Router builds the full route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.handleLiveness).Methods(http.MethodGet)
	if h.svc.Metrics != nil {
		r.Handle("/metrics", h.svc.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/health/details", h.handleHealthDetails).Methods(http.MethodGet)
	api.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodPost)

	api.HandleFunc("/users", h.handleListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users", h.handleCreateUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", h.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", h.handleUpdateUser).Methods(http.MethodPatch)
	api.HandleFunc("/users/{id}", h.handleDeleteUser).Methods(http.MethodDelete)

	api.HandleFunc("/projects", h.handleListProjects).Methods(http.MethodGet)
	api.HandleFunc("/projects", h.handleCreateProject).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}", h.handleGetProject).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}", h.handleUpdateProject).Methods(http.MethodPatch)
	api.HandleFunc("/projects/{id}", h.handleDeleteProject).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{id}/members", h.handleListMembers).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}/members", h.handleAddMember).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/members/{userID}", h.handleRemoveMember).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{id}/tasks", h.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}/tasks", h.handleCreateTask).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/schedule", h.handleSchedule).Methods(http.MethodGet)

	api.HandleFunc("/tasks/bulk", h.handleBulkUpdate).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}", h.handleGetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", h.handleUpdateTask).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}", h.handleDeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{id}/move", h.handleMoveTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/comments", h.handleListComments).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/comments", h.handleCreateComment).Methods(http.MethodPost)
	api.HandleFunc("/comments/{id}", h.handleDeleteComment).Methods(http.MethodDelete)

	api.HandleFunc("/agents/suggestions", h.handleSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/waitlist", h.handleJoinWaitlist).Methods(http.MethodPost)
	api.HandleFunc("/waitlist", h.handleListWaitlist).Methods(http.MethodGet)

	if h.svc.Events != nil {
		api.Handle("/events", h.svc.Events).Methods(http.MethodGet)
	}
	return r
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health.Report(r.Context(), false))
}

func (h *Handler) handleHealthDetails(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health.Report(r.Context(), true))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.svc.Users.VerifyCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, expires, err := h.svc.Auth.Issue(u)
	if err != nil {
		h.log.WithError(err).Error("issue session token")
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expires,
		"user":       u,
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to status codes: missing
// records to 404, uniqueness conflicts to 409, everything else to 400.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case isNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, users.ErrEmailTaken),
		errors.Is(err, projects.ErrAlreadyMember),
		errors.Is(err, waitlistsvc.ErrAlreadyJoined):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, users.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "not found")
}

// requireAdmin rejects the request unless the caller is an admin or a
// service token. With auth disabled every caller passes.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.svc.Auth == nil {
		return true
	}
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !id.Service && id.Role != user.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin access required")
		return false
	}
	return true
}
