package comments

import (
	"context"
	"strings"
	"testing"

	"github.com/madfam-io/madlab/internal/app/domain/project"
	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/domain/user"
	"github.com/madfam-io/madlab/internal/app/storage/memory"
)

func seed(t *testing.T) (*Service, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	p, err := store.CreateProject(ctx, project.Project{Name: "p"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	created, err := store.CreateTask(ctx, task.Task{ProjectID: p.ID, Title: "t", Status: task.StatusTodo, Priority: task.PriorityLow})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return New(store, store, store, nil), store, created.ID
}

func TestCreateAndList(t *testing.T) {
	svc, store, taskID := seed(t)
	ctx := context.Background()

	author, err := store.CreateUser(ctx, user.User{Email: "c@example.com", Name: "C", Role: user.RoleMember})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	c, err := svc.Create(ctx, taskID, author.ID, "  looks good  ")
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if c.Body != "looks good" {
		t.Fatalf("body not trimmed: %q", c.Body)
	}

	list, err := svc.List(ctx, taskID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != c.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, taskID := seed(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, taskID, "", "   "); err == nil {
		t.Fatalf("empty body must be rejected")
	}
	if _, err := svc.Create(ctx, taskID, "", strings.Repeat("x", maxBodyLength+1)); err == nil {
		t.Fatalf("oversized body must be rejected")
	}
	if _, err := svc.Create(ctx, "missing", "", "hi"); err == nil {
		t.Fatalf("unknown task must be rejected")
	}
	if _, err := svc.Create(ctx, taskID, "ghost", "hi"); err == nil {
		t.Fatalf("unknown author must be rejected")
	}
}

func TestDelete(t *testing.T) {
	svc, _, taskID := seed(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, taskID, "", "bye")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, c.ID); err == nil {
		t.Fatalf("second delete must fail")
	}
}
