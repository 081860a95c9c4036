// Package tasks manages board tasks: CRUD, column moves, bulk edits and
// the overdue flagging used by the sweeper.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/events"
	"github.com/madfam-io/madlab/internal/app/storage"
	"github.com/madfam-io/madlab/internal/platform/cache"
	"github.com/madfam-io/madlab/pkg/logger"
)

// ErrDependencyCycle is returned when an edit would make the project's
// dependency graph cyclic.
var ErrDependencyCycle = errors.New("task dependencies form a cycle")

// Publisher receives board mutation events. The websocket hub implements
// it; a nil publisher disables eventing.
type Publisher interface {
	Publish(e events.Event)
}

// CreateParams carries the fields accepted when creating a task.
type CreateParams struct {
	ProjectID    string
	AssigneeID   string
	LegacyID     string
	Title        string
	Notes        string
	Status       task.Status
	Priority     task.Priority
	StartDate    time.Time
	DueDate      time.Time
	DurationDays int
	DependsOn    []string
	Progress     int
}

// UpdateParams carries partial task modifications. Nil fields are left
// unchanged.
type UpdateParams struct {
	AssigneeID   *string
	Title        *string
	Notes        *string
	Status       *task.Status
	Priority     *task.Priority
	Position     *int
	StartDate    *time.Time
	DueDate      *time.Time
	DurationDays *int
	DependsOn    *[]string
	Progress     *int
}

// BulkItem pairs a task identifier with the edits to apply to it.
type BulkItem struct {
	ID     string
	Params UpdateParams
}

// Service coordinates task operations.
type Service struct {
	store    storage.TaskStore
	projects storage.ProjectStore
	users    storage.UserStore
	cache    cache.TaskCache
	pub      Publisher
	log      *logger.Logger
}

// New creates a configured task service. Cache and publisher may be nil.
func New(store storage.TaskStore, projects storage.ProjectStore, users storage.UserStore, c cache.TaskCache, pub Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tasks")
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{store: store, projects: projects, users: users, cache: c, pub: pub, log: log}
}

// Create adds a task to a project board. New tasks land at the bottom of
// their column.
func (s *Service) Create(ctx context.Context, p CreateParams) (task.Task, error) {
	p.ProjectID = strings.TrimSpace(p.ProjectID)
	p.Title = strings.TrimSpace(p.Title)
	if p.ProjectID == "" {
		return task.Task{}, fmt.Errorf("project_id is required")
	}
	if p.Title == "" {
		return task.Task{}, fmt.Errorf("title is required")
	}
	if p.Status == "" {
		p.Status = task.StatusTodo
	}
	if p.Priority == "" {
		p.Priority = task.PriorityMedium
	}

	if _, err := s.projects.GetProject(ctx, p.ProjectID); err != nil {
		return task.Task{}, err
	}
	if err := s.validateAssignee(ctx, p.AssigneeID); err != nil {
		return task.Task{}, err
	}

	t := task.Task{
		ProjectID:    p.ProjectID,
		AssigneeID:   strings.TrimSpace(p.AssigneeID),
		LegacyID:     strings.TrimSpace(p.LegacyID),
		Title:        p.Title,
		Notes:        p.Notes,
		Status:       p.Status,
		Priority:     p.Priority,
		StartDate:    p.StartDate,
		DueDate:      p.DueDate,
		DurationDays: p.DurationDays,
		DependsOn:    normalizeDeps(p.DependsOn),
		Progress:     p.Progress,
	}
	// Tasks created directly in done, such as legacy imports, are
	// complete regardless of the submitted progress.
	if t.Status == task.StatusDone {
		t.Progress = 100
	}
	if err := s.validateTask(ctx, t); err != nil {
		return task.Task{}, err
	}

	column, err := s.store.ListTasks(ctx, t.ProjectID, task.Filter{Status: t.Status})
	if err != nil {
		return task.Task{}, err
	}
	t.Position = len(column)

	t, err = s.store.CreateTask(ctx, t)
	if err != nil {
		return task.Task{}, err
	}

	s.cache.InvalidateProject(ctx, t.ProjectID)
	s.publish(events.Event{Type: events.TypeTaskCreated, ProjectID: t.ProjectID, EntityID: t.ID, Payload: t})
	s.log.WithField("task_id", t.ID).WithField("project_id", t.ProjectID).Info("task created")
	return t, nil
}

// Update applies partial modifications to a task.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (task.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return task.Task{}, err
	}
	if err := s.apply(ctx, &t, p); err != nil {
		return task.Task{}, err
	}

	t, err = s.store.UpdateTask(ctx, t)
	if err != nil {
		return task.Task{}, err
	}

	s.cache.InvalidateProject(ctx, t.ProjectID)
	s.publish(events.Event{Type: events.TypeTaskUpdated, ProjectID: t.ProjectID, EntityID: t.ID, Payload: t})
	s.log.WithField("task_id", t.ID).Info("task updated")
	return t, nil
}

// Move places a task into a column at a given position. Moving to done
// completes the task.
func (s *Service) Move(ctx context.Context, id string, status task.Status, position int) (task.Task, error) {
	if !status.Valid() {
		return task.Task{}, fmt.Errorf("invalid status %q", status)
	}
	if position < 0 {
		return task.Task{}, fmt.Errorf("position cannot be negative")
	}

	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return task.Task{}, err
	}

	t.Status = status
	t.Position = position
	if status == task.StatusDone {
		t.Progress = 100
		t.Overdue = false
	}

	t, err = s.store.UpdateTask(ctx, t)
	if err != nil {
		return task.Task{}, err
	}

	s.cache.InvalidateProject(ctx, t.ProjectID)
	s.publish(events.Event{Type: events.TypeTaskMoved, ProjectID: t.ProjectID, EntityID: t.ID, Payload: t})
	s.log.WithField("task_id", t.ID).WithField("status", string(status)).Info("task moved")
	return t, nil
}

// BulkUpdate applies a batch of edits atomically from the caller's point
// of view: every item is loaded and validated before the first write, so
// a bad item rejects the whole batch.
func (s *Service) BulkUpdate(ctx context.Context, items []BulkItem) ([]task.Task, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("no updates provided")
	}

	staged := make([]task.Task, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("item %d: id is required", i)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("item %d: duplicate task %s in batch", i, item.ID)
		}
		seen[item.ID] = struct{}{}

		t, err := s.store.GetTask(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if err := s.apply(ctx, &t, item.Params); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		staged = append(staged, t)
	}

	// Per-item validation sees store state only, so two edits that form
	// a cycle together would both pass it. Re-check the graph with the
	// whole batch overlaid before writing anything.
	if err := s.validateBatchDependencies(ctx, staged); err != nil {
		return nil, err
	}

	updated := make([]task.Task, 0, len(staged))
	projects := make(map[string]struct{})
	for _, t := range staged {
		u, err := s.store.UpdateTask(ctx, t)
		if err != nil {
			return nil, err
		}
		updated = append(updated, u)
		projects[u.ProjectID] = struct{}{}
		s.publish(events.Event{Type: events.TypeTaskUpdated, ProjectID: u.ProjectID, EntityID: u.ID, Payload: u})
	}
	for pid := range projects {
		s.cache.InvalidateProject(ctx, pid)
	}

	s.log.WithField("count", len(updated)).Info("bulk task update applied")
	return updated, nil
}

// Get fetches a task by identifier.
func (s *Service) Get(ctx context.Context, id string) (task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns the tasks of a project, optionally filtered. Listings are
// served from cache when possible.
func (s *Service) List(ctx context.Context, projectID string, f task.Filter) ([]task.Task, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("invalid status filter %q", f.Status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, fmt.Errorf("invalid priority filter %q", f.Priority)
	}

	key := cache.Key(projectID, f)
	if tasks, ok := s.cache.GetTasks(ctx, key); ok {
		return tasks, nil
	}

	tasks, err := s.store.ListTasks(ctx, projectID, f)
	if err != nil {
		return nil, err
	}
	s.cache.SetTasks(ctx, key, tasks)
	return tasks, nil
}

// Delete removes a task. Comments cascade and references to it are
// stripped from other tasks' dependencies by the store.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}

	s.cache.InvalidateProject(ctx, t.ProjectID)
	s.publish(events.Event{Type: events.TypeTaskDeleted, ProjectID: t.ProjectID, EntityID: id})
	s.log.WithField("task_id", id).Info("task deleted")
	return nil
}

// MarkOverdue flags unfinished tasks whose due date has passed. It
// returns the number of tasks flagged.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDueBefore(ctx, now)
	if err != nil {
		return 0, err
	}

	flagged := 0
	projects := make(map[string]struct{})
	for _, t := range due {
		t.Overdue = true
		u, err := s.store.UpdateTask(ctx, t)
		if err != nil {
			s.log.WithError(err).WithField("task_id", t.ID).Warn("flag overdue task")
			continue
		}
		flagged++
		projects[u.ProjectID] = struct{}{}
		s.publish(events.Event{Type: events.TypeTaskUpdated, ProjectID: u.ProjectID, EntityID: u.ID, Payload: u})
	}
	for pid := range projects {
		s.cache.InvalidateProject(ctx, pid)
	}
	return flagged, nil
}

// apply folds partial params into t and re-validates the result.
func (s *Service) apply(ctx context.Context, t *task.Task, p UpdateParams) error {
	if p.AssigneeID != nil {
		assignee := strings.TrimSpace(*p.AssigneeID)
		if err := s.validateAssignee(ctx, assignee); err != nil {
			return err
		}
		t.AssigneeID = assignee
	}
	if p.Title != nil {
		trimmed := strings.TrimSpace(*p.Title)
		if trimmed == "" {
			return fmt.Errorf("title cannot be empty")
		}
		t.Title = trimmed
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Position != nil {
		if *p.Position < 0 {
			return fmt.Errorf("position cannot be negative")
		}
		t.Position = *p.Position
	}
	if p.StartDate != nil {
		t.StartDate = *p.StartDate
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.DurationDays != nil {
		t.DurationDays = *p.DurationDays
	}
	if p.DependsOn != nil {
		t.DependsOn = normalizeDeps(*p.DependsOn)
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}

	if t.Status == task.StatusDone {
		t.Progress = 100
		t.Overdue = false
	}
	return s.validateTask(ctx, *t)
}

// validateTask checks field ranges and the dependency graph.
func (s *Service) validateTask(ctx context.Context, t task.Task) error {
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100")
	}
	if t.DurationDays < 0 {
		return fmt.Errorf("duration_days cannot be negative")
	}
	if !t.StartDate.IsZero() && !t.DueDate.IsZero() && t.DueDate.Before(t.StartDate) {
		return fmt.Errorf("due_date cannot precede start_date")
	}
	return s.validateDependencies(ctx, t)
}

// validateDependencies requires every dependency to be a distinct task in
// the same project and rejects edits that would close a cycle.
func (s *Service) validateDependencies(ctx context.Context, t task.Task) error {
	if len(t.DependsOn) == 0 {
		return nil
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID && t.ID != "" {
			return fmt.Errorf("task cannot depend on itself")
		}
		other, err := s.store.GetTask(ctx, dep)
		if err != nil {
			return fmt.Errorf("unknown dependency %q", dep)
		}
		if other.ProjectID != t.ProjectID {
			return fmt.Errorf("dependency %q belongs to a different project", dep)
		}
	}
	if t.ID == "" {
		// New tasks cannot be depended upon yet, so no cycle is possible.
		return nil
	}

	siblings, err := s.store.ListTasks(ctx, t.ProjectID, task.Filter{})
	if err != nil {
		return err
	}
	graph := make(map[string][]string, len(siblings))
	for _, sib := range siblings {
		graph[sib.ID] = sib.DependsOn
	}
	graph[t.ID] = t.DependsOn

	if hasCycleFrom(graph, t.ID) {
		return ErrDependencyCycle
	}
	return nil
}

// validateBatchDependencies checks each affected project's dependency
// graph with every staged edit applied at once.
func (s *Service) validateBatchDependencies(ctx context.Context, staged []task.Task) error {
	byProject := make(map[string][]task.Task)
	for _, t := range staged {
		byProject[t.ProjectID] = append(byProject[t.ProjectID], t)
	}

	for pid, batch := range byProject {
		siblings, err := s.store.ListTasks(ctx, pid, task.Filter{})
		if err != nil {
			return err
		}
		graph := make(map[string][]string, len(siblings))
		for _, sib := range siblings {
			graph[sib.ID] = sib.DependsOn
		}
		for _, t := range batch {
			graph[t.ID] = t.DependsOn
		}
		for _, t := range batch {
			if hasCycleFrom(graph, t.ID) {
				return ErrDependencyCycle
			}
		}
	}
	return nil
}

// hasCycleFrom walks the dependency edges reachable from start and
// reports whether they lead back to a node in progress.
func hasCycleFrom(graph map[string][]string, start string) bool {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(graph))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, dep := range graph[id] {
			if visit(dep) {
				return true
			}
		}
		state[id] = done
		return false
	}
	return visit(start)
}

func (s *Service) validateAssignee(ctx context.Context, assigneeID string) error {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" || s.users == nil {
		return nil
	}
	if _, err := s.users.GetUser(ctx, assigneeID); err != nil {
		return fmt.Errorf("assignee validation failed: %w", err)
	}
	return nil
}

func (s *Service) publish(e events.Event) {
	if s.pub != nil {
		s.pub.Publish(e)
	}
}

func normalizeDeps(deps []string) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, 0, len(deps))
	seen := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
