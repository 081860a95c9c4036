// Package waitlistsvc records early-access signups.
package waitlistsvc

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/madfam-io/madlab/internal/app/domain/waitlist"
	"github.com/madfam-io/madlab/internal/app/storage"
	"github.com/madfam-io/madlab/pkg/logger"
)

// ErrAlreadyJoined is returned when an email signs up twice.
var ErrAlreadyJoined = errors.New("email already on the waitlist")

// Service coordinates waitlist signups.
type Service struct {
	store storage.WaitlistStore
	log   *logger.Logger
}

// New creates a configured waitlist service.
func New(store storage.WaitlistStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("waitlist")
	}
	return &Service{store: store, log: log}
}

// Join records a signup. Emails are normalized to lower case and each
// email can join once.
func (s *Service) Join(ctx context.Context, email, name, source string) (waitlist.Entry, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return waitlist.Entry{}, fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return waitlist.Entry{}, fmt.Errorf("invalid email address %q", email)
	}

	if _, err := s.store.GetWaitlistEntryByEmail(ctx, email); err == nil {
		return waitlist.Entry{}, ErrAlreadyJoined
	}

	e, err := s.store.CreateWaitlistEntry(ctx, waitlist.Entry{
		Email:  email,
		Name:   strings.TrimSpace(name),
		Source: strings.TrimSpace(source),
	})
	if err != nil {
		return waitlist.Entry{}, err
	}
	s.log.WithField("email", e.Email).WithField("source", e.Source).Info("waitlist signup")
	return e, nil
}

// List returns all signups oldest first.
func (s *Service) List(ctx context.Context) ([]waitlist.Entry, error) {
	return s.store.ListWaitlistEntries(ctx)
}
