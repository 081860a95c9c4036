// Package comments manages the discussion thread attached to a task.
package comments

import (
	"context"
	"fmt"
	"strings"

	"github.com/madfam-io/madlab/internal/app/domain/comment"
	"github.com/madfam-io/madlab/internal/app/storage"
	"github.com/madfam-io/madlab/pkg/logger"
)

const maxBodyLength = 10000

// Service coordinates task comments.
type Service struct {
	tasks storage.TaskStore
	users storage.UserStore
	store storage.CommentStore
	log   *logger.Logger
}

// New creates a configured comment service.
func New(store storage.CommentStore, tasks storage.TaskStore, users storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("comments")
	}
	return &Service{tasks: tasks, users: users, store: store, log: log}
}

// Create attaches a comment to a task.
func (s *Service) Create(ctx context.Context, taskID, authorID, body string) (comment.Comment, error) {
	taskID = strings.TrimSpace(taskID)
	authorID = strings.TrimSpace(authorID)
	body = strings.TrimSpace(body)
	if body == "" {
		return comment.Comment{}, fmt.Errorf("body is required")
	}
	if len(body) > maxBodyLength {
		return comment.Comment{}, fmt.Errorf("body exceeds %d characters", maxBodyLength)
	}

	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		return comment.Comment{}, err
	}
	if authorID != "" && s.users != nil {
		if _, err := s.users.GetUser(ctx, authorID); err != nil {
			return comment.Comment{}, fmt.Errorf("author validation failed: %w", err)
		}
	}

	c, err := s.store.CreateComment(ctx, comment.Comment{TaskID: taskID, AuthorID: authorID, Body: body})
	if err != nil {
		return comment.Comment{}, err
	}
	s.log.WithField("comment_id", c.ID).WithField("task_id", taskID).Info("comment created")
	return c, nil
}

// List returns a task's comments oldest first.
func (s *Service) List(ctx context.Context, taskID string) ([]comment.Comment, error) {
	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, taskID)
}

// Delete removes a comment.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.store.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteComment(ctx, id); err != nil {
		return err
	}
	s.log.WithField("comment_id", id).WithField("task_id", c.TaskID).Info("comment deleted")
	return nil
}
