package httpapi

import (
	"net/http"
)

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project query parameter is required")
		return
	}

	suggestions, err := h.svc.Agents.Suggest(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if h.svc.Metrics != nil {
		h.svc.Metrics.SuggestionsServed()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_id":  projectID,
		"suggestions": suggestions,
	})
}

func (h *Handler) handleJoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.svc.Waitlist.Join(r.Context(), req.Email, req.Name, req.Source)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if h.svc.Metrics != nil {
		h.svc.Metrics.WaitlistSignup()
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleListWaitlist(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	list, err := h.svc.Waitlist.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list waitlist")
		writeError(w, http.StatusInternalServerError, "could not list waitlist")
		return
	}
	writeJSON(w, http.StatusOK, list)
}
