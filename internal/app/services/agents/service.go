// Package agents produces rule-driven planning suggestions for a
// project board. The rules are JSONPath filters evaluated against a
// snapshot of the project's tasks, which keeps the rule table
// declarative and lets new heuristics ship without touching the
// evaluation code. A model-backed advisor can replace the rule table
// later behind the same Suggest signature.
package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/storage"
	"github.com/madfam-io/madlab/pkg/logger"
)

// Suggestion is one piece of advice about a project board.
type Suggestion struct {
	Rule     string   `json:"rule"`
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	TaskIDs  []string `json:"task_ids,omitempty"`
}

// Severity levels, mildest first.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

type rule struct {
	name     string
	severity string
	// path selects the ids of matching tasks from the board snapshot.
	path    string
	message func(n int) string
}

var ruleTable = []rule{
	{
		name:     "overdue-tasks",
		severity: SeverityWarning,
		path:     `$.tasks[?@.overdue].id`,
		message: func(n int) string {
			return fmt.Sprintf("%d task(s) are past their due date. Reschedule them or raise their priority.", n)
		},
	},
	{
		name:     "blocked-tasks",
		severity: SeverityWarning,
		path:     `$.tasks[?@.status == "blocked"].id`,
		message: func(n int) string {
			return fmt.Sprintf("%d task(s) are blocked. Review their dependencies to unblock the board.", n)
		},
	},
	{
		name:     "unassigned-urgent",
		severity: SeverityWarning,
		path:     `$.tasks[?@.priority == "urgent" && @.assignee_id == ""].id`,
		message: func(n int) string {
			return fmt.Sprintf("%d urgent task(s) have no assignee. Assign an owner so they are not dropped.", n)
		},
	},
	{
		name:     "stalled-in-progress",
		severity: SeverityInfo,
		path:     `$.tasks[?@.status == "in_progress" && @.progress == 0].id`,
		message: func(n int) string {
			return fmt.Sprintf("%d in-progress task(s) report no progress yet. Check whether they have actually started.", n)
		},
	},
	{
		name:     "done-partial-progress",
		severity: SeverityInfo,
		path:     `$.tasks[?@.status == "done" && @.progress < 100].id`,
		message: func(n int) string {
			return fmt.Sprintf("%d completed task(s) report less than 100%% progress. Their progress fields look stale.", n)
		},
	},
}

// Service evaluates the suggestion rules.
type Service struct {
	tasks    storage.TaskStore
	projects storage.ProjectStore
	log      *logger.Logger

	rules []compiledRule
}

type compiledRule struct {
	rule
	eval gval.Evaluable
}

// New creates a configured agent service. The rule table is compiled
// once at construction.
func New(tasks storage.TaskStore, projects storage.ProjectStore, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("agents")
	}

	lang := gval.Full(jsonpath.PlaceholderExtension())
	compiled := make([]compiledRule, 0, len(ruleTable))
	for _, r := range ruleTable {
		eval, err := lang.NewEvaluable(r.path)
		if err != nil {
			return nil, fmt.Errorf("compile rule %s: %w", r.name, err)
		}
		compiled = append(compiled, compiledRule{rule: r, eval: eval})
	}
	return &Service{tasks: tasks, projects: projects, log: log, rules: compiled}, nil
}

// Suggest evaluates every rule against the project's current tasks and
// returns the suggestions that fired, warnings first.
func (s *Service) Suggest(ctx context.Context, projectID string) ([]Suggestion, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	all, err := s.tasks.ListTasks(ctx, projectID, task.Filter{})
	if err != nil {
		return nil, err
	}

	snapshot := snapshot(all)
	suggestions := make([]Suggestion, 0, len(s.rules))
	for _, r := range s.rules {
		ids, err := matchIDs(ctx, r.eval, snapshot)
		if err != nil {
			s.log.WithError(err).WithField("rule", r.name).Warn("rule evaluation failed")
			continue
		}
		if len(ids) == 0 {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			Rule:     r.name,
			Severity: r.severity,
			Message:  r.message(len(ids)),
			TaskIDs:  ids,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Severity == SeverityWarning && suggestions[j].Severity != SeverityWarning
	})
	return suggestions, nil
}

// snapshot flattens tasks into plain maps so every rule key is present
// even when the domain struct would omit it from JSON.
func snapshot(all []task.Task) map[string]interface{} {
	rows := make([]interface{}, 0, len(all))
	for _, t := range all {
		rows = append(rows, map[string]interface{}{
			"id":          t.ID,
			"title":       t.Title,
			"status":      string(t.Status),
			"priority":    string(t.Priority),
			"assignee_id": t.AssigneeID,
			"progress":    t.Progress,
			"overdue":     t.Overdue,
		})
	}
	return map[string]interface{}{"tasks": rows}
}

func matchIDs(ctx context.Context, eval gval.Evaluable, snapshot map[string]interface{}) ([]string, error) {
	result, err := eval(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	values, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected rule result type %T", result)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
