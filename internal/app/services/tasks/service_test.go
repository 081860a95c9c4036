package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/madfam-io/madlab/internal/app/domain/project"
	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/events"
	"github.com/madfam-io/madlab/internal/app/storage/memory"
)

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.events = append(p.events, e)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *recordingPublisher, string) {
	t.Helper()
	store := memory.New()
	pub := &recordingPublisher{}
	svc := New(store, store, store, nil, pub, nil)

	p, err := store.CreateProject(context.Background(), project.Project{Name: "board"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return svc, store, pub, p.ID
}

func TestCreateDefaultsAndPosition(t *testing.T) {
	svc, _, pub, pid := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "  first  "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Title != "first" || first.Status != task.StatusTodo || first.Priority != task.PriorityMedium {
		t.Fatalf("defaults not applied: %+v", first)
	}
	if first.Position != 0 {
		t.Fatalf("expected position 0, got %d", first.Position)
	}

	second, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "second"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.Position != 1 {
		t.Fatalf("expected position 1 at bottom of column, got %d", second.Position)
	}

	if len(pub.events) != 2 || pub.events[0].Type != events.TypeTaskCreated {
		t.Fatalf("expected two created events, got %+v", pub.events)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, pid := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"missing title", CreateParams{ProjectID: pid}},
		{"missing project", CreateParams{Title: "x"}},
		{"unknown project", CreateParams{ProjectID: "nope", Title: "x"}},
		{"bad status", CreateParams{ProjectID: pid, Title: "x", Status: "later"}},
		{"bad priority", CreateParams{ProjectID: pid, Title: "x", Priority: "asap"}},
		{"bad progress", CreateParams{ProjectID: pid, Title: "x", Progress: 150}},
		{"unknown assignee", CreateParams{ProjectID: pid, Title: "x", AssigneeID: "ghost"}},
		{"unknown dependency", CreateParams{ProjectID: pid, Title: "x", DependsOn: []string{"ghost"}}},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, tc.params); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestUpdateRejectsCycle(t *testing.T) {
	svc, _, _, pid := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "a"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "b", DependsOn: []string{a.ID}})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	c, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "c", DependsOn: []string{b.ID}})
	if err != nil {
		t.Fatalf("create c: %v", err)
	}

	deps := []string{c.ID}
	_, err = svc.Update(ctx, a.ID, UpdateParams{DependsOn: &deps})
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}

	// Self-dependency is rejected before graph traversal.
	self := []string{a.ID}
	if _, err := svc.Update(ctx, a.ID, UpdateParams{DependsOn: &self}); err == nil {
		t.Fatalf("expected self-dependency error")
	}
}

func TestCrossProjectDependencyRejected(t *testing.T) {
	svc, store, _, pid := newTestService(t)
	ctx := context.Background()

	other, err := store.CreateProject(ctx, project.Project{Name: "other"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	foreign, err := svc.Create(ctx, CreateParams{ProjectID: other.ID, Title: "foreign"})
	if err != nil {
		t.Fatalf("create foreign task: %v", err)
	}

	if _, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "x", DependsOn: []string{foreign.ID}}); err == nil {
		t.Fatalf("expected cross-project dependency error")
	}
}

func TestMoveToDoneCompletes(t *testing.T) {
	svc, _, pub, pid := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "x", Progress: 40})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	moved, err := svc.Move(ctx, created.ID, task.StatusDone, 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.Status != task.StatusDone || moved.Progress != 100 || moved.Overdue {
		t.Fatalf("move to done should complete the task: %+v", moved)
	}

	last := pub.events[len(pub.events)-1]
	if last.Type != events.TypeTaskMoved {
		t.Fatalf("expected moved event, got %q", last.Type)
	}
}

func TestBulkUpdateIsAtomic(t *testing.T) {
	svc, store, _, pid := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "a"})
	b, _ := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "b"})

	status := task.StatusInProgress
	updated, err := svc.BulkUpdate(ctx, []BulkItem{
		{ID: a.ID, Params: UpdateParams{Status: &status}},
		{ID: b.ID, Params: UpdateParams{Status: &status}},
	})
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updated))
	}

	bad := task.Status("nope")
	_, err = svc.BulkUpdate(ctx, []BulkItem{
		{ID: a.ID, Params: UpdateParams{Status: &status}},
		{ID: b.ID, Params: UpdateParams{Status: &bad}},
	})
	if err == nil {
		t.Fatalf("expected batch rejection")
	}

	got, err := store.GetTask(ctx, a.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != task.StatusInProgress {
		t.Fatalf("failed batch must not write: status %q", got.Status)
	}
}

func TestBulkUpdateRejectsDuplicates(t *testing.T) {
	svc, _, _, pid := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "a"})
	status := task.StatusDone
	_, err := svc.BulkUpdate(ctx, []BulkItem{
		{ID: a.ID, Params: UpdateParams{Status: &status}},
		{ID: a.ID, Params: UpdateParams{Status: &status}},
	})
	if err == nil {
		t.Fatalf("expected duplicate id rejection")
	}
}

func TestMarkOverdue(t *testing.T) {
	svc, _, _, pid := newTestService(t)
	ctx := context.Background()
	yesterday := time.Now().Add(-24 * time.Hour)

	late, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "late", DueDate: yesterday})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "done", DueDate: yesterday, Status: task.StatusDone})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	flagged, err := svc.MarkOverdue(ctx, time.Now())
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("expected 1 flagged task, got %d", flagged)
	}

	got, _ := svc.Get(ctx, late.ID)
	if !got.Overdue {
		t.Fatalf("late task should be overdue")
	}
	got, _ = svc.Get(ctx, done.ID)
	if got.Overdue {
		t.Fatalf("done task must not be flagged")
	}

	// Second sweep finds nothing new.
	flagged, err = svc.MarkOverdue(ctx, time.Now())
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if flagged != 0 {
		t.Fatalf("expected idempotent sweep, flagged %d", flagged)
	}
}

func TestDeleteStripsDependencies(t *testing.T) {
	svc, _, _, pid := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "a"})
	b, err := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "b", DependsOn: []string{a.ID}})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := svc.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if len(got.DependsOn) != 0 {
		t.Fatalf("expected dependency stripped, got %v", got.DependsOn)
	}
}

func TestCreateDoneTaskSetsProgress(t *testing.T) {
	svc, _, _, pid := newTestService(t)

	created, err := svc.Create(context.Background(), CreateParams{ProjectID: pid, Title: "x", Status: task.StatusDone})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != task.StatusDone {
		t.Fatalf("expected done status, got %q", created.Status)
	}
	if created.Progress != 100 {
		t.Fatalf("task created in done must be complete, got progress %d", created.Progress)
	}
}

func TestBulkUpdateRejectsCycleAcrossBatch(t *testing.T) {
	svc, store, _, pid := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "a"})
	b, _ := svc.Create(ctx, CreateParams{ProjectID: pid, Title: "b"})

	// Each edit is acyclic on its own; only together do they close the
	// loop.
	depsOnB := []string{b.ID}
	depsOnA := []string{a.ID}
	_, err := svc.BulkUpdate(ctx, []BulkItem{
		{ID: a.ID, Params: UpdateParams{DependsOn: &depsOnB}},
		{ID: b.ID, Params: UpdateParams{DependsOn: &depsOnA}},
	})
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}

	for _, id := range []string{a.ID, b.ID} {
		got, err := store.GetTask(ctx, id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if len(got.DependsOn) != 0 {
			t.Fatalf("rejected batch must not write: task %s has deps %v", id, got.DependsOn)
		}
	}
}
