// Package schedule derives a Gantt-style timeline for a project board
// using the critical path method over the task dependency graph.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/storage"
	"github.com/madfam-io/madlab/pkg/logger"
)

// TaskSchedule is the derived timeline for one task.
type TaskSchedule struct {
	TaskID       string      `json:"task_id"`
	Title        string      `json:"title"`
	Status       task.Status `json:"status"`
	Progress     int         `json:"progress"`
	DurationDays int         `json:"duration_days"`
	DependsOn    []string    `json:"depends_on,omitempty"`

	EarliestStart  time.Time `json:"earliest_start"`
	EarliestFinish time.Time `json:"earliest_finish"`
	LatestStart    time.Time `json:"latest_start"`
	LatestFinish   time.Time `json:"latest_finish"`
	SlackDays      int       `json:"slack_days"`
	Critical       bool      `json:"critical"`
}

// Schedule is the derived timeline for a whole project.
type Schedule struct {
	ProjectID    string         `json:"project_id"`
	GeneratedAt  time.Time      `json:"generated_at"`
	Start        time.Time      `json:"start"`
	Finish       time.Time      `json:"finish"`
	SpanDays     int            `json:"span_days"`
	Progress     int            `json:"progress"`
	CriticalPath []string       `json:"critical_path"`
	Tasks        []TaskSchedule `json:"tasks"`
}

// Service derives project schedules.
type Service struct {
	tasks    storage.TaskStore
	projects storage.ProjectStore
	log      *logger.Logger
}

// New creates a configured schedule service.
func New(tasks storage.TaskStore, projects storage.ProjectStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("schedule")
	}
	return &Service{tasks: tasks, projects: projects, log: log}
}

// Build computes the schedule for a project as of now. The dependency
// graph must be acyclic; a cycle is reported as an error naming one of
// the tasks on it.
func (s *Service) Build(ctx context.Context, projectID string, now time.Time) (Schedule, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return Schedule{}, err
	}
	all, err := s.tasks.ListTasks(ctx, projectID, task.Filter{})
	if err != nil {
		return Schedule{}, err
	}

	sched := Schedule{
		ProjectID:   projectID,
		GeneratedAt: now.UTC(),
	}
	if len(all) == 0 {
		return sched, nil
	}

	order, err := topoSort(all)
	if err != nil {
		return Schedule{}, err
	}

	byID := make(map[string]task.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	// The project is anchored at the earliest explicit start date, or
	// today when no task carries one.
	anchor := anchorDate(all, now)

	durations := make(map[string]int, len(all))
	for _, t := range all {
		durations[t.ID] = effectiveDuration(t)
	}

	// Forward pass: earliest start is the latest finish among
	// dependencies; explicit start dates can only push a task later.
	earliestStart := make(map[string]int, len(all))
	earliestFinish := make(map[string]int, len(all))
	for _, id := range order {
		t := byID[id]
		es := 0
		for _, dep := range t.DependsOn {
			if earliestFinish[dep] > es {
				es = earliestFinish[dep]
			}
		}
		if !t.StartDate.IsZero() {
			if offset := daysBetween(anchor, t.StartDate); offset > es {
				es = offset
			}
		}
		earliestStart[id] = es
		earliestFinish[id] = es + durations[id]
	}

	spanDays := 0
	for _, id := range order {
		if earliestFinish[id] > spanDays {
			spanDays = earliestFinish[id]
		}
	}

	// Backward pass: latest finish is the earliest latest-start among
	// dependents, defaulting to the project finish.
	dependents := make(map[string][]string, len(all))
	for _, t := range all {
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}
	latestStart := make(map[string]int, len(all))
	latestFinish := make(map[string]int, len(all))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		lf := spanDays
		for _, succ := range dependents[id] {
			if latestStart[succ] < lf {
				lf = latestStart[succ]
			}
		}
		latestFinish[id] = lf
		latestStart[id] = lf - durations[id]
	}

	rows := make([]TaskSchedule, 0, len(all))
	totalDur, doneDur := 0, 0
	var critical []TaskSchedule
	for _, id := range order {
		t := byID[id]
		dur := durations[id]
		slack := latestStart[id] - earliestStart[id]
		row := TaskSchedule{
			TaskID:         t.ID,
			Title:          t.Title,
			Status:         t.Status,
			Progress:       effectiveProgress(t),
			DurationDays:   dur,
			DependsOn:      t.DependsOn,
			EarliestStart:  anchor.AddDate(0, 0, earliestStart[id]),
			EarliestFinish: anchor.AddDate(0, 0, earliestFinish[id]),
			LatestStart:    anchor.AddDate(0, 0, latestStart[id]),
			LatestFinish:   anchor.AddDate(0, 0, latestFinish[id]),
			SlackDays:      slack,
			Critical:       slack == 0,
		}
		rows = append(rows, row)
		if row.Critical {
			critical = append(critical, row)
		}

		totalDur += dur
		doneDur += dur * effectiveProgress(t)
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].EarliestStart.Equal(rows[j].EarliestStart) {
			return rows[i].EarliestStart.Before(rows[j].EarliestStart)
		}
		return rows[i].TaskID < rows[j].TaskID
	})
	sort.Slice(critical, func(i, j int) bool {
		if !critical[i].EarliestStart.Equal(critical[j].EarliestStart) {
			return critical[i].EarliestStart.Before(critical[j].EarliestStart)
		}
		return critical[i].TaskID < critical[j].TaskID
	})

	sched.Start = anchor
	sched.Finish = anchor.AddDate(0, 0, spanDays)
	sched.SpanDays = spanDays
	sched.Tasks = rows
	if totalDur > 0 {
		sched.Progress = doneDur / totalDur
	}
	sched.CriticalPath = make([]string, 0, len(critical))
	for _, row := range critical {
		sched.CriticalPath = append(sched.CriticalPath, row.TaskID)
	}
	return sched, nil
}

// topoSort orders tasks so every dependency precedes its dependents.
// Ties are broken by task id for determinism.
func topoSort(all []task.Task) ([]string, error) {
	indegree := make(map[string]int, len(all))
	dependents := make(map[string][]string, len(all))
	for _, t := range all {
		if _, ok := indegree[t.ID]; !ok {
			indegree[t.ID] = 0
		}
		for _, dep := range t.DependsOn {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(all))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		changed := false
		for _, succ := range dependents[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}

	if len(order) != len(all) {
		for _, t := range all {
			if indegree[t.ID] > 0 {
				return nil, fmt.Errorf("dependency cycle involving task %s", t.ID)
			}
		}
		return nil, fmt.Errorf("dependency cycle detected")
	}
	return order, nil
}

// effectiveDuration resolves a task's working duration in days. Explicit
// durations win, then the start/due span, then a one day default.
func effectiveDuration(t task.Task) int {
	if t.DurationDays > 0 {
		return t.DurationDays
	}
	if !t.StartDate.IsZero() && !t.DueDate.IsZero() {
		if d := daysBetween(t.StartDate, t.DueDate); d > 0 {
			return d
		}
	}
	return 1
}

func anchorDate(all []task.Task, now time.Time) time.Time {
	var anchor time.Time
	for _, t := range all {
		if t.StartDate.IsZero() {
			continue
		}
		if anchor.IsZero() || t.StartDate.Before(anchor) {
			anchor = t.StartDate
		}
	}
	if anchor.IsZero() {
		anchor = now
	}
	return truncateDay(anchor)
}

func daysBetween(from, to time.Time) int {
	return int(truncateDay(to).Sub(truncateDay(from)).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// effectiveProgress is the completion weight used for a task: done tasks
// count as fully complete even when their recorded progress is stale.
func effectiveProgress(t task.Task) int {
	if t.Status == task.StatusDone {
		return 100
	}
	return clampProgress(t.Progress)
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
