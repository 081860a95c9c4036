package memory

import (
	"context"
	"testing"
	"time"

	"github.com/madfam-io/madlab/internal/app/domain/comment"
	"github.com/madfam-io/madlab/internal/app/domain/project"
	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/domain/user"
)

func seed(t *testing.T, s *Store) (projectID, taskID, userID string) {
	t.Helper()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, user.User{Email: "a@example.com", Name: "A", Role: user.RoleMember})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	p, err := s.CreateProject(ctx, project.Project{OwnerID: u.ID, Name: "p"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	tk, err := s.CreateTask(ctx, task.Task{ProjectID: p.ID, AssigneeID: u.ID, Title: "t", Status: task.StatusTodo, Priority: task.PriorityMedium})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return p.ID, tk.ID, u.ID
}

func TestDeleteUserClearsReferences(t *testing.T) {
	s := New()
	ctx := context.Background()
	pid, tid, uid := seed(t, s)

	if _, err := s.AddMember(ctx, project.Member{ProjectID: pid, UserID: uid, Role: project.MemberOwner}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := s.CreateComment(ctx, comment.Comment{TaskID: tid, AuthorID: uid, Body: "hi"}); err != nil {
		t.Fatalf("create comment: %v", err)
	}

	if err := s.DeleteUser(ctx, uid); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	tk, err := s.GetTask(ctx, tid)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.AssigneeID != "" {
		t.Fatalf("assignee should be cleared, got %q", tk.AssigneeID)
	}

	comments, _ := s.ListComments(ctx, tid)
	if len(comments) != 1 || comments[0].AuthorID != "" {
		t.Fatalf("comment author should be cleared: %+v", comments)
	}

	members, _ := s.ListMembers(ctx, pid)
	if len(members) != 0 {
		t.Fatalf("membership should be removed: %+v", members)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	pid, tid, _ := seed(t, s)

	if _, err := s.CreateComment(ctx, comment.Comment{TaskID: tid, Body: "note"}); err != nil {
		t.Fatalf("create comment: %v", err)
	}

	if err := s.DeleteProject(ctx, pid); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, err := s.GetTask(ctx, tid); err == nil {
		t.Fatalf("task should be gone")
	}
	comments, _ := s.ListComments(ctx, tid)
	if len(comments) != 0 {
		t.Fatalf("comments should be gone: %+v", comments)
	}
}

func TestDeleteTaskStripsDependencies(t *testing.T) {
	s := New()
	ctx := context.Background()
	pid, tid, _ := seed(t, s)

	dependent, err := s.CreateTask(ctx, task.Task{ProjectID: pid, Title: "d", Status: task.StatusTodo, Priority: task.PriorityLow, DependsOn: []string{tid}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := s.DeleteTask(ctx, tid); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	got, err := s.GetTask(ctx, dependent.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if len(got.DependsOn) != 0 {
		t.Fatalf("dependency should be stripped: %v", got.DependsOn)
	}
}

func TestEmailUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, user.User{Email: "a@example.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.CreateUser(ctx, user.User{Email: "A@EXAMPLE.com"}); err == nil {
		t.Fatalf("expected case-insensitive email collision")
	}
}

func TestLegacyIDUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	pid, _, _ := seed(t, s)

	if _, err := s.CreateTask(ctx, task.Task{ProjectID: pid, Title: "x", LegacyID: "L1", Status: task.StatusTodo, Priority: task.PriorityLow}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := s.CreateTask(ctx, task.Task{ProjectID: pid, Title: "y", LegacyID: "L1", Status: task.StatusTodo, Priority: task.PriorityLow}); err == nil {
		t.Fatalf("expected legacy id collision")
	}
}

func TestUpdateTaskPreservesImmutableFields(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, tid, _ := seed(t, s)

	got, err := s.GetTask(ctx, tid)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	created := got.CreatedAt

	got.ProjectID = "tampered"
	got.Title = "renamed"
	updated, err := s.UpdateTask(ctx, got)
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if updated.ProjectID == "tampered" {
		t.Fatalf("project id must be immutable")
	}
	if !updated.CreatedAt.Equal(created) {
		t.Fatalf("created timestamp must be preserved")
	}
	if updated.Title != "renamed" {
		t.Fatalf("title update lost")
	}
}

func TestListTasksOrdersByPosition(t *testing.T) {
	s := New()
	ctx := context.Background()
	pid, _, _ := seed(t, s)

	for i, pos := range []int{2, 0} {
		if _, err := s.CreateTask(ctx, task.Task{ProjectID: pid, Title: string(rune('a' + i)), Position: pos, Status: task.StatusTodo, Priority: task.PriorityLow}); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	tasks, err := s.ListTasks(ctx, pid, task.Filter{})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i-1].Position > tasks[i].Position {
			t.Fatalf("tasks out of position order: %+v", tasks)
		}
	}
}

func TestListDueBefore(t *testing.T) {
	s := New()
	ctx := context.Background()
	pid, _, _ := seed(t, s)
	now := time.Now()

	mk := func(title string, due time.Time, status task.Status, overdue bool) {
		if _, err := s.CreateTask(ctx, task.Task{ProjectID: pid, Title: title, DueDate: due, Status: status, Priority: task.PriorityLow, Overdue: overdue}); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	mk("late", now.Add(-time.Hour), task.StatusTodo, false)
	mk("already-flagged", now.Add(-time.Hour), task.StatusTodo, true)
	mk("finished", now.Add(-time.Hour), task.StatusDone, false)
	mk("future", now.Add(time.Hour), task.StatusTodo, false)

	due, err := s.ListDueBefore(ctx, now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].Title != "late" {
		t.Fatalf("expected only the late task, got %+v", due)
	}
}

func TestCloneOnReturn(t *testing.T) {
	s := New()
	ctx := context.Background()
	pid, _, _ := seed(t, s)

	created, err := s.CreateTask(ctx, task.Task{ProjectID: pid, Title: "x", DependsOn: []string{"1"}, Status: task.StatusTodo, Priority: task.PriorityLow})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	created.DependsOn[0] = "mutated"

	got, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.DependsOn[0] != "1" {
		t.Fatalf("store state leaked through returned slice")
	}
}
