package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/services/tasks"
)

type taskPatch struct {
	AssigneeID   *string        `json:"assignee_id"`
	Title        *string        `json:"title"`
	Notes        *string        `json:"notes"`
	Status       *task.Status   `json:"status"`
	Priority     *task.Priority `json:"priority"`
	Position     *int           `json:"position"`
	StartDate    *time.Time     `json:"start_date"`
	DueDate      *time.Time     `json:"due_date"`
	DurationDays *int           `json:"duration_days"`
	DependsOn    *[]string      `json:"depends_on"`
	Progress     *int           `json:"progress"`
}

func (p taskPatch) params() tasks.UpdateParams {
	return tasks.UpdateParams{
		AssigneeID:   p.AssigneeID,
		Title:        p.Title,
		Notes:        p.Notes,
		Status:       p.Status,
		Priority:     p.Priority,
		Position:     p.Position,
		StartDate:    p.StartDate,
		DueDate:      p.DueDate,
		DurationDays: p.DurationDays,
		DependsOn:    p.DependsOn,
		Progress:     p.Progress,
	}
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{
		Status:     task.Status(q.Get("status")),
		Priority:   task.Priority(q.Get("priority")),
		AssigneeID: q.Get("assignee"),
	}

	list, err := h.svc.Tasks.List(r.Context(), mux.Vars(r)["id"], filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssigneeID   string        `json:"assignee_id"`
		LegacyID     string        `json:"legacy_id"`
		Title        string        `json:"title"`
		Notes        string        `json:"notes"`
		Status       task.Status   `json:"status"`
		Priority     task.Priority `json:"priority"`
		StartDate    time.Time     `json:"start_date"`
		DueDate      time.Time     `json:"due_date"`
		DurationDays int           `json:"duration_days"`
		DependsOn    []string      `json:"depends_on"`
		Progress     int           `json:"progress"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.svc.Tasks.Create(r.Context(), tasks.CreateParams{
		ProjectID:    mux.Vars(r)["id"],
		AssigneeID:   req.AssigneeID,
		LegacyID:     req.LegacyID,
		Title:        req.Title,
		Notes:        req.Notes,
		Status:       req.Status,
		Priority:     req.Priority,
		StartDate:    req.StartDate,
		DueDate:      req.DueDate,
		DurationDays: req.DurationDays,
		DependsOn:    req.DependsOn,
		Progress:     req.Progress,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if h.svc.Metrics != nil {
		h.svc.Metrics.TaskCreated()
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Tasks.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskPatch
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.svc.Tasks.Update(r.Context(), mux.Vars(r)["id"], req.params())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Tasks.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status   task.Status `json:"status"`
		Position int         `json:"position"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.svc.Tasks.Move(r.Context(), mux.Vars(r)["id"], req.Status, req.Position)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleBulkUpdate applies the same partial edit to a set of tasks.
// The batch is all-or-nothing.
func (h *Handler) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs    []string  `json:"ids"`
		Fields taskPatch `json:"fields"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	items := make([]tasks.BulkItem, 0, len(req.IDs))
	for _, id := range req.IDs {
		items = append(items, tasks.BulkItem{ID: id, Params: req.Fields.params()})
	}

	updated, err := h.svc.Tasks.BulkUpdate(r.Context(), items)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if h.svc.Metrics != nil {
		h.svc.Metrics.BulkUpdateApplied()
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleListComments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Comments.List(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AuthorID string `json:"author_id"`
		Body     string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.svc.Comments.Create(r.Context(), mux.Vars(r)["id"], req.AuthorID, req.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Comments.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
