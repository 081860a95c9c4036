// Package storage defines the persistence interfaces the application
// services depend on. Implementations live in the memory and postgres
// subpackages.
package storage

import (
	"context"
	"time"

	"github.com/madfam-io/madlab/internal/app/domain/comment"
	"github.com/madfam-io/madlab/internal/app/domain/project"
	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/domain/user"
	"github.com/madfam-io/madlab/internal/app/domain/waitlist"
)

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// ProjectStore persists projects and their memberships.
type ProjectStore interface {
	CreateProject(ctx context.Context, p project.Project) (project.Project, error)
	UpdateProject(ctx context.Context, p project.Project) (project.Project, error)
	GetProject(ctx context.Context, id string) (project.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]project.Project, error)
	DeleteProject(ctx context.Context, id string) error

	AddMember(ctx context.Context, m project.Member) (project.Member, error)
	RemoveMember(ctx context.Context, projectID, userID string) error
	ListMembers(ctx context.Context, projectID string) ([]project.Member, error)
}

// TaskStore persists tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	UpdateTask(ctx context.Context, t task.Task) (task.Task, error)
	GetTask(ctx context.Context, id string) (task.Task, error)
	ListTasks(ctx context.Context, projectID string, filter task.Filter) ([]task.Task, error)
	DeleteTask(ctx context.Context, id string) error

	// ListDueBefore returns unfinished tasks whose due date has passed and
	// that are not yet flagged overdue. Used by the sweeper.
	ListDueBefore(ctx context.Context, cutoff time.Time) ([]task.Task, error)
}

// CommentStore persists task comments.
type CommentStore interface {
	CreateComment(ctx context.Context, c comment.Comment) (comment.Comment, error)
	GetComment(ctx context.Context, id string) (comment.Comment, error)
	ListComments(ctx context.Context, taskID string) ([]comment.Comment, error)
	DeleteComment(ctx context.Context, id string) error
}

// WaitlistStore persists waitlist signups.
type WaitlistStore interface {
	CreateWaitlistEntry(ctx context.Context, e waitlist.Entry) (waitlist.Entry, error)
	GetWaitlistEntryByEmail(ctx context.Context, email string) (waitlist.Entry, error)
	ListWaitlistEntries(ctx context.Context) ([]waitlist.Entry, error)
}
