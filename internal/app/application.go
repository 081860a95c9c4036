// Package app assembles the stores, services and background components
// into one application object the runtime can serve.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/madfam-io/madlab/internal/app/auth"
	"github.com/madfam-io/madlab/internal/app/events"
	"github.com/madfam-io/madlab/internal/app/httpapi"
	"github.com/madfam-io/madlab/internal/app/metrics"
	"github.com/madfam-io/madlab/internal/app/services/agents"
	"github.com/madfam-io/madlab/internal/app/services/comments"
	"github.com/madfam-io/madlab/internal/app/services/health"
	"github.com/madfam-io/madlab/internal/app/services/projects"
	"github.com/madfam-io/madlab/internal/app/services/schedule"
	"github.com/madfam-io/madlab/internal/app/services/tasks"
	"github.com/madfam-io/madlab/internal/app/services/users"
	"github.com/madfam-io/madlab/internal/app/services/waitlistsvc"
	"github.com/madfam-io/madlab/internal/app/storage"
	"github.com/madfam-io/madlab/internal/app/storage/memory"
	"github.com/madfam-io/madlab/internal/app/sweeper"
	"github.com/madfam-io/madlab/internal/app/system"
	"github.com/madfam-io/madlab/internal/platform/cache"
	"github.com/madfam-io/madlab/pkg/logger"
)

// Stores carries the persistence implementations. Nil fields default to
// a shared in-memory store, which keeps tests and development setups
// short.
type Stores struct {
	Users    storage.UserStore
	Projects storage.ProjectStore
	Tasks    storage.TaskStore
	Comments storage.CommentStore
	Waitlist storage.WaitlistStore
}

func (s *Stores) fillDefaults() {
	var mem *memory.Store
	ensure := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if s.Users == nil {
		s.Users = ensure()
	}
	if s.Projects == nil {
		s.Projects = ensure()
	}
	if s.Tasks == nil {
		s.Tasks = ensure()
	}
	if s.Comments == nil {
		s.Comments = ensure()
	}
	if s.Waitlist == nil {
		s.Waitlist = ensure()
	}
}

// Options tunes the optional parts of the application.
type Options struct {
	Version string

	// Auth is nil when authentication is disabled.
	Auth *auth.Manager

	// Cache is nil when no redis is configured.
	Cache cache.TaskCache

	// SweepSchedule is a cron expression; empty disables the sweeper.
	SweepSchedule string
}

// Application is the assembled service graph.
type Application struct {
	Users    *users.Service
	Projects *projects.Service
	Tasks    *tasks.Service
	Comments *comments.Service
	Waitlist *waitlistsvc.Service
	Agents   *agents.Service
	Schedule *schedule.Service
	Health   *health.Service
	Metrics  *metrics.Registry

	Hub *events.Hub

	handler *httpapi.Handler
	manager *system.Manager
	log     *logger.Logger
}

// New wires the application together.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	stores.fillDefaults()

	reg := metrics.New()
	hub := events.NewHub(log.WithField("component", "events"))
	pub := countingPublisher{hub: hub, reg: reg}

	userSvc := users.New(stores.Users, log.WithField("component", "users"))
	projectSvc := projects.New(stores.Users, stores.Projects, log.WithField("component", "projects"))
	taskSvc := tasks.New(stores.Tasks, stores.Projects, stores.Users, opts.Cache, pub, log.WithField("component", "tasks"))
	commentSvc := comments.New(stores.Comments, stores.Tasks, stores.Users, log.WithField("component", "comments"))
	waitlistSvc := waitlistsvc.New(stores.Waitlist, log.WithField("component", "waitlist"))
	scheduleSvc := schedule.New(stores.Tasks, stores.Projects, log.WithField("component", "schedule"))
	healthSvc := health.New(opts.Version, log.WithField("component", "health"))

	agentSvc, err := agents.New(stores.Tasks, stores.Projects, log.WithField("component", "agents"))
	if err != nil {
		return nil, fmt.Errorf("build agent service: %w", err)
	}

	manager := system.NewManager(log.WithField("component", "system"))
	if err := manager.Register(hub); err != nil {
		return nil, err
	}
	if opts.SweepSchedule != "" {
		sw, err := sweeper.New(opts.SweepSchedule, taskSvc, reg, log.WithField("component", "sweeper"))
		if err != nil {
			return nil, err
		}
		if err := manager.Register(sw); err != nil {
			return nil, err
		}
	}

	a := &Application{
		Users:    userSvc,
		Projects: projectSvc,
		Tasks:    taskSvc,
		Comments: commentSvc,
		Waitlist: waitlistSvc,
		Agents:   agentSvc,
		Schedule: scheduleSvc,
		Health:   healthSvc,
		Metrics:  reg,
		Hub:      hub,
		manager:  manager,
		log:      log,
	}
	a.handler = httpapi.New(httpapi.Services{
		Users:    userSvc,
		Projects: projectSvc,
		Tasks:    taskSvc,
		Comments: commentSvc,
		Waitlist: waitlistSvc,
		Agents:   agentSvc,
		Schedule: scheduleSvc,
		Health:   healthSvc,
		Auth:     opts.Auth,
		Events:   hub,
		Metrics:  reg,
	}, log.WithField("component", "httpapi"))
	return a, nil
}

// Handler returns the API handler.
func (a *Application) Handler() *httpapi.Handler {
	return a.handler
}

// Start launches the background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts the background services down.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// AttachPinger registers a dependency probe on the health service.
func (a *Application) AttachPinger(name string, fn func(ctx context.Context) error) {
	a.Health.AttachPinger(health.PingerFunc{Label: name, Fn: fn})
}

// countingPublisher forwards events to the hub and counts them.
type countingPublisher struct {
	hub *events.Hub
	reg *metrics.Registry
}

func (p countingPublisher) Publish(e events.Event) {
	p.reg.EventPublished()
	p.hub.Publish(e)
}

var _ tasks.Publisher = countingPublisher{}

var _ http.Handler = (*events.Hub)(nil)

var _ sweeper.Marker = (*tasks.Service)(nil)

var _ sweeper.Observer = (*metrics.Registry)(nil)
