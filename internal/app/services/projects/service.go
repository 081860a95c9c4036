// Package projects manages boards and their memberships.
package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/madfam-io/madlab/internal/app/domain/project"
	"github.com/madfam-io/madlab/internal/app/storage"
	"github.com/madfam-io/madlab/pkg/logger"
)

// ErrAlreadyMember is returned when a user is added to a project twice.
var ErrAlreadyMember = errors.New("user is already a project member")

// Service coordinates projects and memberships.
type Service struct {
	users storage.UserStore
	store storage.ProjectStore
	log   *logger.Logger
}

// New creates a configured project service.
func New(users storage.UserStore, store storage.ProjectStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("projects")
	}
	return &Service{users: users, store: store, log: log}
}

// Create provisions a project and enrolls the owner as its first member.
func (s *Service) Create(ctx context.Context, ownerID, name, description, color string) (project.Project, error) {
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if name == "" {
		return project.Project{}, fmt.Errorf("name is required")
	}

	if ownerID != "" && s.users != nil {
		if _, err := s.users.GetUser(ctx, ownerID); err != nil {
			return project.Project{}, fmt.Errorf("owner validation failed: %w", err)
		}
	}

	existing, err := s.store.ListProjects(ctx, ownerID)
	if err != nil {
		return project.Project{}, err
	}
	for _, p := range existing {
		if strings.EqualFold(p.Name, name) {
			return project.Project{}, fmt.Errorf("project with name %q already exists", name)
		}
	}

	p := project.Project{
		OwnerID:     ownerID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Color:       strings.TrimSpace(color),
	}
	p, err = s.store.CreateProject(ctx, p)
	if err != nil {
		return project.Project{}, err
	}

	if ownerID != "" {
		if _, err := s.store.AddMember(ctx, project.Member{
			ProjectID: p.ID,
			UserID:    ownerID,
			Role:      project.MemberOwner,
		}); err != nil {
			s.log.WithError(err).WithField("project_id", p.ID).Warn("enroll owner as member")
		}
	}

	s.log.WithField("project_id", p.ID).WithField("owner_id", ownerID).Info("project created")
	return p, nil
}

// Update applies partial modifications to a project.
func (s *Service) Update(ctx context.Context, id string, name, description, color *string, archived *bool) (project.Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return project.Project{}, err
	}

	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return project.Project{}, fmt.Errorf("name cannot be empty")
		}
		p.Name = trimmed
	}
	if description != nil {
		p.Description = strings.TrimSpace(*description)
	}
	if color != nil {
		p.Color = strings.TrimSpace(*color)
	}
	if archived != nil {
		p.Archived = *archived
	}

	p, err = s.store.UpdateProject(ctx, p)
	if err != nil {
		return project.Project{}, err
	}
	s.log.WithField("project_id", p.ID).Info("project updated")
	return p, nil
}

// Get fetches a project by identifier.
func (s *Service) Get(ctx context.Context, id string) (project.Project, error) {
	return s.store.GetProject(ctx, id)
}

// List returns projects, optionally restricted to an owner.
func (s *Service) List(ctx context.Context, ownerID string) ([]project.Project, error) {
	return s.store.ListProjects(ctx, ownerID)
}

// Delete removes a project. Tasks, comments and memberships cascade in the
// store.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.log.WithField("project_id", id).Info("project deleted")
	return nil
}

// AddMember enrolls a user on a project.
func (s *Service) AddMember(ctx context.Context, projectID, userID string, role project.MemberRole) (project.Member, error) {
	projectID = strings.TrimSpace(projectID)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return project.Member{}, fmt.Errorf("user_id is required")
	}
	if role == "" {
		role = project.MemberViewer
	}
	if !role.Valid() {
		return project.Member{}, fmt.Errorf("invalid member role %q", role)
	}

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return project.Member{}, err
	}
	if s.users != nil {
		if _, err := s.users.GetUser(ctx, userID); err != nil {
			return project.Member{}, fmt.Errorf("user validation failed: %w", err)
		}
	}

	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return project.Member{}, err
	}
	for _, m := range members {
		if m.UserID == userID {
			return project.Member{}, ErrAlreadyMember
		}
	}

	m, err := s.store.AddMember(ctx, project.Member{ProjectID: projectID, UserID: userID, Role: role})
	if err != nil {
		return project.Member{}, err
	}
	s.log.WithField("project_id", projectID).WithField("user_id", userID).Info("member added")
	return m, nil
}

// RemoveMember drops a user from a project. The owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, projectID, userID string) error {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.OwnerID != "" && p.OwnerID == userID {
		return fmt.Errorf("cannot remove the project owner")
	}
	if err := s.store.RemoveMember(ctx, projectID, userID); err != nil {
		return err
	}
	s.log.WithField("project_id", projectID).WithField("user_id", userID).Info("member removed")
	return nil
}

// ListMembers returns the project membership.
func (s *Service) ListMembers(ctx context.Context, projectID string) ([]project.Member, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, projectID)
}
