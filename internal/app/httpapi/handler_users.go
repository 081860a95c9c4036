package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/madfam-io/madlab/internal/app/domain/user"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Users.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list users")
		writeError(w, http.StatusInternalServerError, "could not list users")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string    `json:"email"`
		Name     string    `json:"name"`
		Role     user.Role `json:"role"`
		Password string    `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.svc.Users.Create(r.Context(), req.Email, req.Name, req.Role, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Users.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email *string    `json:"email"`
		Name  *string    `json:"name"`
		Role  *user.Role `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.svc.Users.Update(r.Context(), mux.Vars(r)["id"], req.Email, req.Name, req.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Users.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
