package projects

import (
	"context"
	"errors"
	"testing"

	"github.com/madfam-io/madlab/internal/app/domain/project"
	"github.com/madfam-io/madlab/internal/app/domain/user"
	"github.com/madfam-io/madlab/internal/app/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.Store, user.User) {
	t.Helper()
	store := memory.New()
	owner, err := store.CreateUser(context.Background(), user.User{Email: "owner@example.com", Name: "O", Role: user.RoleMember})
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	return New(store, store, nil), store, owner
}

func TestCreateEnrollsOwner(t *testing.T) {
	svc, store, owner := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, owner.ID, "  Launch  ", "desc", "#fff")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Name != "Launch" {
		t.Fatalf("name not trimmed: %q", p.Name)
	}

	members, err := store.ListMembers(ctx, p.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 || members[0].UserID != owner.ID || members[0].Role != project.MemberOwner {
		t.Fatalf("owner not enrolled: %+v", members)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, owner.ID, "  ", "", ""); err == nil {
		t.Fatalf("blank name must be rejected")
	}
	if _, err := svc.Create(ctx, "ghost", "X", "", ""); err == nil {
		t.Fatalf("unknown owner must be rejected")
	}
	if _, err := svc.Create(ctx, owner.ID, "Dup", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, owner.ID, "dup", "", ""); err == nil {
		t.Fatalf("duplicate name for the same owner must be rejected")
	}
}

func TestUpdatePartialFields(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, owner.ID, "Before", "keep", "#abc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	name := "After"
	archived := true
	updated, err := svc.Update(ctx, p.ID, &name, nil, nil, &archived)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "After" || !updated.Archived {
		t.Fatalf("fields not applied: %+v", updated)
	}
	if updated.Description != "keep" || updated.Color != "#abc" {
		t.Fatalf("untouched fields changed: %+v", updated)
	}

	empty := " "
	if _, err := svc.Update(ctx, p.ID, &empty, nil, nil, nil); err == nil {
		t.Fatalf("blank name update must be rejected")
	}
}

func TestMembership(t *testing.T) {
	svc, store, owner := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, owner.ID, "Team", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	other, err := store.CreateUser(ctx, user.User{Email: "m@example.com", Name: "M", Role: user.RoleMember})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	m, err := svc.AddMember(ctx, p.ID, other.ID, "")
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if m.Role != project.MemberViewer {
		t.Fatalf("empty role should default to viewer, got %q", m.Role)
	}
	if _, err := svc.AddMember(ctx, p.ID, other.ID, project.MemberEditor); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	if _, err := svc.AddMember(ctx, p.ID, other.ID, "chief"); err == nil {
		t.Fatalf("invalid role must be rejected")
	}

	if err := svc.RemoveMember(ctx, p.ID, owner.ID); err == nil {
		t.Fatalf("owner removal must be rejected")
	}
	if err := svc.RemoveMember(ctx, p.ID, other.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	members, err := svc.ListMembers(ctx, p.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected only the owner to remain: %+v", members)
	}
}
