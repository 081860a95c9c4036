// Package system manages the lifecycle of long-running background
// services such as the event hub and the overdue sweeper.
package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/madfam-io/madlab/pkg/logger"
)

// Service is a long-running component with an explicit lifecycle.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts registered services in order and stops them in reverse.
type Manager struct {
	log *logger.Logger

	mu       sync.Mutex
	services []Service
	running  bool
}

// NewManager creates an empty manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("system")
	}
	return &Manager{log: log}
}

// Register adds a service. Registration after Start is rejected.
func (m *Manager) Register(s Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("cannot register %s: manager already started", s.Name())
	}
	m.services = append(m.services, s)
	return nil
}

// Start launches every registered service. On failure the services
// already started are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("manager already started")
	}

	for i, s := range m.services {
		if err := s.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.services[j].Stop(ctx); stopErr != nil {
					m.log.WithError(stopErr).WithField("service", m.services[j].Name()).Error("rollback stop failed")
				}
			}
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
		m.log.WithField("service", s.Name()).Info("service started")
	}
	m.running = true
	return nil
}

// Stop shuts services down in reverse registration order. All services
// are attempted; the first error is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}

	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		s := m.services[i]
		if err := s.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", s.Name()).Error("service stop failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", s.Name(), err)
			}
			continue
		}
		m.log.WithField("service", s.Name()).Info("service stopped")
	}
	m.running = false
	return firstErr
}
