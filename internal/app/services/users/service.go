// Package users manages registered accounts and local credentials.
package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/madfam-io/madlab/internal/app/domain/user"
	"github.com/madfam-io/madlab/internal/app/storage"
	"github.com/madfam-io/madlab/pkg/logger"
)

// ErrEmailTaken is returned when a create or update collides with an
// existing account email.
var ErrEmailTaken = errors.New("email already registered")

// ErrInvalidCredentials is returned by VerifyCredentials on any mismatch.
// It deliberately does not distinguish unknown emails from bad passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service coordinates user accounts.
type Service struct {
	store storage.UserStore
	log   *logger.Logger
}

// New creates a configured user service.
func New(store storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, log: log}
}

// Create registers a new user. Password may be empty for IdP-managed
// accounts.
func (s *Service) Create(ctx context.Context, email, name string, role user.Role, password string) (user.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return user.User{}, err
	}
	name = strings.TrimSpace(name)
	if role == "" {
		role = user.RoleMember
	}
	if !role.Valid() {
		return user.User{}, fmt.Errorf("invalid role %q", role)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return user.User{}, ErrEmailTaken
	}

	u := user.User{Email: email, Name: name, Role: role}
	if password != "" {
		hash, err := hashPassword(password)
		if err != nil {
			return user.User{}, err
		}
		u.PasswordHash = hash
	}

	u, err = s.store.CreateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", u.ID).WithField("email", u.Email).Info("user created")
	return u, nil
}

// Update applies partial modifications to a user.
func (s *Service) Update(ctx context.Context, id string, email, name *string, role *user.Role) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if email != nil {
		normalized, err := normalizeEmail(*email)
		if err != nil {
			return user.User{}, err
		}
		if !strings.EqualFold(normalized, u.Email) {
			if _, err := s.store.GetUserByEmail(ctx, normalized); err == nil {
				return user.User{}, ErrEmailTaken
			}
		}
		u.Email = normalized
	}
	if name != nil {
		u.Name = strings.TrimSpace(*name)
	}
	if role != nil {
		if !role.Valid() {
			return user.User{}, fmt.Errorf("invalid role %q", *role)
		}
		u.Role = *role
	}

	u, err = s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", u.ID).Info("user updated")
	return u, nil
}

// SetPassword replaces the stored credential hash.
func (s *Service) SetPassword(ctx context.Context, id, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	_, err = s.store.UpdateUser(ctx, u)
	return err
}

// VerifyCredentials checks an email/password pair and returns the matching
// user.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (user.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return user.User{}, ErrInvalidCredentials
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return user.User{}, ErrInvalidCredentials
	}
	if u.PasswordHash == "" {
		return user.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return user.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Get fetches a user by identifier.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// Delete removes a user. Task assignments and comment authorship are
// cleared by the store.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.WithField("user_id", id).Info("user deleted")
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("invalid email address %q", email)
	}
	return email, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
