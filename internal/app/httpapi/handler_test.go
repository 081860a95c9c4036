package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/madfam-io/madlab/internal/app/auth"
	"github.com/madfam-io/madlab/internal/app/services/agents"
	"github.com/madfam-io/madlab/internal/app/services/comments"
	"github.com/madfam-io/madlab/internal/app/services/health"
	"github.com/madfam-io/madlab/internal/app/services/projects"
	"github.com/madfam-io/madlab/internal/app/services/schedule"
	"github.com/madfam-io/madlab/internal/app/services/tasks"
	"github.com/madfam-io/madlab/internal/app/services/users"
	"github.com/madfam-io/madlab/internal/app/services/waitlistsvc"
	"github.com/madfam-io/madlab/internal/app/storage/memory"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store := memory.New()

	agentSvc, err := agents.New(store, store, nil)
	if err != nil {
		t.Fatalf("build agent service: %v", err)
	}
	authManager, err := auth.New("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("build auth manager: %v", err)
	}

	return New(Services{
		Users:    users.New(store, nil),
		Projects: projects.New(store, store, nil),
		Tasks:    tasks.New(store, store, store, nil, nil, nil),
		Comments: comments.New(store, store, store, nil),
		Waitlist: waitlistsvc.New(store, nil),
		Agents:   agentSvc,
		Schedule: schedule.New(store, store, nil),
		Health:   health.New("test", nil),
		Auth:     authManager,
	}, nil)
}

func doRequest(t *testing.T, h *Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func createProject(t *testing.T, h *Handler, name string) string {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/projects", map[string]interface{}{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: status %d body %s", rec.Code, rec.Body.String())
	}
	return gjson.Get(rec.Body.String(), "id").String()
}

func createTask(t *testing.T, h *Handler, projectID string, body map[string]interface{}) string {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/projects/"+projectID+"/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", rec.Code, rec.Body.String())
	}
	return gjson.Get(rec.Body.String(), "id").String()
}

func TestLivenessEndpoint(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "status").String(); got != "ok" {
		t.Fatalf("expected status ok, got %q", got)
	}
}

func TestHealthReportsVersion(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "version").String(); got != "test" {
		t.Fatalf("expected version test, got %q", got)
	}
}

func TestProjectLifecycle(t *testing.T) {
	h := newTestHandler(t)
	id := createProject(t, h, "Lab Refit")

	rec := doRequest(t, h, http.MethodGet, "/api/projects/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get project: status %d", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "name").String(); got != "Lab Refit" {
		t.Fatalf("expected name Lab Refit, got %q", got)
	}

	rec = doRequest(t, h, http.MethodPatch, "/api/projects/"+id, map[string]interface{}{"archived": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("archive project: status %d body %s", rec.Code, rec.Body.String())
	}
	if !gjson.Get(rec.Body.String(), "archived").Bool() {
		t.Fatalf("expected project to be archived")
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/projects/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete project: status %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/projects/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateProjectRequiresName(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/projects", map[string]interface{}{"name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateProjectRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/projects", map[string]interface{}{"name": "x", "bogus": 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestTaskListFilters(t *testing.T) {
	h := newTestHandler(t)
	pid := createProject(t, h, "Filters")

	createTask(t, h, pid, map[string]interface{}{"title": "a", "status": "todo", "priority": "high"})
	createTask(t, h, pid, map[string]interface{}{"title": "b", "status": "in_progress", "priority": "low"})
	createTask(t, h, pid, map[string]interface{}{"title": "c", "status": "todo", "priority": "low"})

	rec := doRequest(t, h, http.MethodGet, "/api/projects/"+pid+"/tasks?status=todo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list tasks: status %d", rec.Code)
	}
	if n := gjson.Get(rec.Body.String(), "#").Int(); n != 2 {
		t.Fatalf("expected 2 todo tasks, got %d", n)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/projects/"+pid+"/tasks?status=todo&priority=high", nil)
	if n := gjson.Get(rec.Body.String(), "#").Int(); n != 1 {
		t.Fatalf("expected 1 high priority todo task, got %d", n)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/projects/"+pid+"/tasks?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status filter, got %d", rec.Code)
	}
}

func TestTaskMoveCompletesOnDone(t *testing.T) {
	h := newTestHandler(t)
	pid := createProject(t, h, "Moves")
	tid := createTask(t, h, pid, map[string]interface{}{"title": "ship it"})

	rec := doRequest(t, h, http.MethodPost, "/api/tasks/"+tid+"/move", map[string]interface{}{"status": "done", "position": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("move task: status %d body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if got := gjson.Get(body, "status").String(); got != "done" {
		t.Fatalf("expected status done, got %q", got)
	}
	if got := gjson.Get(body, "progress").Int(); got != 100 {
		t.Fatalf("expected progress 100, got %d", got)
	}
}

func TestTaskDependencyCycleRejected(t *testing.T) {
	h := newTestHandler(t)
	pid := createProject(t, h, "Cycles")
	a := createTask(t, h, pid, map[string]interface{}{"title": "a"})
	b := createTask(t, h, pid, map[string]interface{}{"title": "b", "depends_on": []string{a}})

	rec := doRequest(t, h, http.MethodPatch, "/api/tasks/"+a, map[string]interface{}{"depends_on": []string{b}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for dependency cycle, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestBulkUpdateAllOrNothing(t *testing.T) {
	h := newTestHandler(t)
	pid := createProject(t, h, "Bulk")
	a := createTask(t, h, pid, map[string]interface{}{"title": "a"})
	b := createTask(t, h, pid, map[string]interface{}{"title": "b"})

	rec := doRequest(t, h, http.MethodPost, "/api/tasks/bulk", map[string]interface{}{
		"ids":    []string{a, b},
		"fields": map[string]interface{}{"status": "in_progress"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk update: status %d body %s", rec.Code, rec.Body.String())
	}
	if n := gjson.Get(rec.Body.String(), "#").Int(); n != 2 {
		t.Fatalf("expected 2 updated tasks, got %d", n)
	}

	// One unknown id rejects the whole batch.
	rec = doRequest(t, h, http.MethodPost, "/api/tasks/bulk", map[string]interface{}{
		"ids":    []string{a, "no-such-task"},
		"fields": map[string]interface{}{"status": "done"},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id in batch, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/tasks/"+a, nil)
	if got := gjson.Get(rec.Body.String(), "status").String(); got != "in_progress" {
		t.Fatalf("expected task a untouched by failed batch, status %q", got)
	}
}

func TestCommentsLifecycle(t *testing.T) {
	h := newTestHandler(t)
	pid := createProject(t, h, "Comments")
	tid := createTask(t, h, pid, map[string]interface{}{"title": "discuss"})

	rec := doRequest(t, h, http.MethodPost, "/api/tasks/"+tid+"/comments", map[string]interface{}{"body": "looks good"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create comment: status %d body %s", rec.Code, rec.Body.String())
	}
	cid := gjson.Get(rec.Body.String(), "id").String()

	rec = doRequest(t, h, http.MethodGet, "/api/tasks/"+tid+"/comments", nil)
	if n := gjson.Get(rec.Body.String(), "#").Int(); n != 1 {
		t.Fatalf("expected 1 comment, got %d", n)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/comments/"+cid, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete comment: status %d", rec.Code)
	}
}

func TestWaitlistSignupAndDuplicate(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/waitlist", map[string]interface{}{"email": "ada@example.com", "name": "Ada"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("waitlist signup: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/waitlist", map[string]interface{}{"email": "ADA@example.com"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate signup, got %d", rec.Code)
	}
}

func TestAgentSuggestions(t *testing.T) {
	h := newTestHandler(t)
	pid := createProject(t, h, "Suggestions")
	createTask(t, h, pid, map[string]interface{}{"title": "stuck", "status": "blocked"})
	createTask(t, h, pid, map[string]interface{}{"title": "hot", "priority": "urgent"})

	rec := doRequest(t, h, http.MethodGet, "/api/agents/suggestions?project="+pid, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("suggestions: status %d body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()

	rules := gjson.Get(body, "suggestions.#.rule").Array()
	found := map[string]bool{}
	for _, r := range rules {
		found[r.String()] = true
	}
	if !found["blocked-tasks"] {
		t.Fatalf("expected blocked-tasks suggestion, got %s", body)
	}
	if !found["unassigned-urgent"] {
		t.Fatalf("expected unassigned-urgent suggestion, got %s", body)
	}
}

func TestAgentSuggestionsRequireProject(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/agents/suggestions", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without project parameter, got %d", rec.Code)
	}
}

func TestScheduleEndpoint(t *testing.T) {
	h := newTestHandler(t)
	pid := createProject(t, h, "Timeline")
	a := createTask(t, h, pid, map[string]interface{}{"title": "foundations", "duration_days": 3})
	createTask(t, h, pid, map[string]interface{}{"title": "walls", "duration_days": 2, "depends_on": []string{a}})

	rec := doRequest(t, h, http.MethodGet, "/api/projects/"+pid+"/schedule", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule: status %d body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if n := gjson.Get(body, "span_days").Int(); n != 5 {
		t.Fatalf("expected 5 day span, got %d", n)
	}
	if n := gjson.Get(body, "critical_path.#").Int(); n != 2 {
		t.Fatalf("expected both tasks on the critical path, got %d", n)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/users", map[string]interface{}{
		"email": "grace@example.com", "name": "Grace", "password": "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email": "grace@example.com", "password": "correct horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	if gjson.Get(rec.Body.String(), "token").String() == "" {
		t.Fatalf("expected a token in the login response")
	}

	rec = doRequest(t, h, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email": "grace@example.com", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}
}

func TestDuplicateEmailConflict(t *testing.T) {
	h := newTestHandler(t)

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		rec := doRequest(t, h, http.MethodPost, "/api/users", map[string]interface{}{
			"email": "dup@example.com", "name": fmt.Sprintf("u%d", i),
		})
		if rec.Code != want {
			t.Fatalf("attempt %d: expected %d, got %d", i, want, rec.Code)
		}
	}
}

func TestMemberManagement(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/users", map[string]interface{}{"email": "m@example.com", "name": "M"})
	uid := gjson.Get(rec.Body.String(), "id").String()
	pid := createProject(t, h, "Membered")

	rec = doRequest(t, h, http.MethodPost, "/api/projects/"+pid+"/members", map[string]interface{}{"user_id": uid, "role": "editor"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/projects/"+pid+"/members", map[string]interface{}{"user_id": uid})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate member, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/projects/"+pid+"/members", nil)
	if n := gjson.Get(rec.Body.String(), "#").Int(); n != 1 {
		t.Fatalf("expected 1 member, got %d", n)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/projects/"+pid+"/members/"+uid, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove member: status %d", rec.Code)
	}
}
