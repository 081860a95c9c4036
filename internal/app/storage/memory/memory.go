// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/madfam-io/madlab/internal/app/domain/comment"
	"github.com/madfam-io/madlab/internal/app/domain/project"
	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/domain/user"
	"github.com/madfam-io/madlab/internal/app/domain/waitlist"
	"github.com/madfam-io/madlab/internal/app/storage"
)

// Store is an in-memory implementation of every storage interface.
type Store struct {
	mu              sync.RWMutex
	nextID          int64
	users           map[string]user.User
	usersByEmail    map[string]string
	projects        map[string]project.Project
	members         map[string][]project.Member
	tasks           map[string]task.Task
	comments        map[string]comment.Comment
	waitlist        map[string]waitlist.Entry
	waitlistByEmail map[string]string
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ProjectStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.CommentStore = (*Store)(nil)
var _ storage.WaitlistStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:          1,
		users:           make(map[string]user.User),
		usersByEmail:    make(map[string]string),
		projects:        make(map[string]project.Project),
		members:         make(map[string][]project.Member),
		tasks:           make(map[string]task.Task),
		comments:        make(map[string]comment.Comment),
		waitlist:        make(map[string]waitlist.Entry),
		waitlistByEmail: make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	key := strings.ToLower(u.Email)
	if _, exists := s.usersByEmail[key]; exists {
		return user.User{}, fmt.Errorf("user with email %s already exists", u.Email)
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByEmail[key] = u.ID
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s not found", u.ID)
	}

	newKey := strings.ToLower(u.Email)
	oldKey := strings.ToLower(original.Email)
	if newKey != oldKey {
		if _, exists := s.usersByEmail[newKey]; exists {
			return user.User{}, fmt.Errorf("user with email %s already exists", u.Email)
		}
		delete(s.usersByEmail, oldKey)
		s.usersByEmail[newKey] = u.ID
	}

	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return user.User{}, fmt.Errorf("user with email %s not found", email)
	}
	return s.users[id], nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		return byCreation(result[i].CreatedAt, result[i].ID, result[j].CreatedAt, result[j].ID)
	})
	return result, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s not found", id)
	}
	delete(s.users, id)
	delete(s.usersByEmail, strings.ToLower(u.Email))

	// Mirror the schema's ON DELETE SET NULL semantics.
	for tid, t := range s.tasks {
		if t.AssigneeID == id {
			t.AssigneeID = ""
			s.tasks[tid] = t
		}
	}
	for cid, c := range s.comments {
		if c.AuthorID == id {
			c.AuthorID = ""
			s.comments[cid] = c
		}
	}
	for pid, members := range s.members {
		s.members[pid] = removeMember(members, id)
	}
	return nil
}

// ProjectStore implementation -------------------------------------------------

func (s *Store) CreateProject(_ context.Context, p project.Project) (project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.projects[p.ID]; exists {
		return project.Project{}, fmt.Errorf("project %s already exists", p.ID)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.projects[p.ID] = p
	return p, nil
}

func (s *Store) UpdateProject(_ context.Context, p project.Project) (project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.projects[p.ID]
	if !ok {
		return project.Project{}, fmt.Errorf("project %s not found", p.ID)
	}
	p.OwnerID = original.OwnerID
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.projects[p.ID] = p
	return p, nil
}

func (s *Store) GetProject(_ context.Context, id string) (project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return project.Project{}, fmt.Errorf("project %s not found", id)
	}
	return p, nil
}

func (s *Store) ListProjects(_ context.Context, ownerID string) ([]project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []project.Project
	for _, p := range s.projects {
		if ownerID == "" || p.OwnerID == ownerID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return byCreation(result[i].CreatedAt, result[i].ID, result[j].CreatedAt, result[j].ID)
	})
	return result, nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %s not found", id)
	}
	delete(s.projects, id)
	delete(s.members, id)

	// Cascade to tasks and their comments.
	for tid, t := range s.tasks {
		if t.ProjectID != id {
			continue
		}
		delete(s.tasks, tid)
		for cid, c := range s.comments {
			if c.TaskID == tid {
				delete(s.comments, cid)
			}
		}
	}
	return nil
}

func (s *Store) AddMember(_ context.Context, m project.Member) (project.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[m.ProjectID]; !ok {
		return project.Member{}, fmt.Errorf("project %s not found", m.ProjectID)
	}
	for _, existing := range s.members[m.ProjectID] {
		if existing.UserID == m.UserID {
			return project.Member{}, fmt.Errorf("user %s is already a member of project %s", m.UserID, m.ProjectID)
		}
	}

	m.JoinedAt = time.Now().UTC()
	s.members[m.ProjectID] = append(s.members[m.ProjectID], m)
	return m, nil
}

func (s *Store) RemoveMember(_ context.Context, projectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.members[projectID]
	trimmed := removeMember(members, userID)
	if len(trimmed) == len(members) {
		return fmt.Errorf("user %s is not a member of project %s", userID, projectID)
	}
	s.members[projectID] = trimmed
	return nil
}

func (s *Store) ListMembers(_ context.Context, projectID string) ([]project.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.members[projectID]
	result := make([]project.Member, len(members))
	copy(result, members)
	return result, nil
}

// TaskStore implementation ----------------------------------------------------

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[t.ProjectID]; !ok {
		return task.Task{}, fmt.Errorf("project %s not found", t.ProjectID)
	}
	if t.ID == "" {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.tasks[t.ID]; exists {
		return task.Task{}, fmt.Errorf("task %s already exists", t.ID)
	}
	if t.LegacyID != "" {
		for _, other := range s.tasks {
			if other.LegacyID == t.LegacyID {
				return task.Task{}, fmt.Errorf("task with legacy id %s already exists", t.LegacyID)
			}
		}
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.DependsOn = cloneStrings(t.DependsOn)
	s.tasks[t.ID] = t
	return cloneTask(t), nil
}

func (s *Store) UpdateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tasks[t.ID]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s not found", t.ID)
	}
	t.ProjectID = original.ProjectID
	t.LegacyID = original.LegacyID
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	t.DependsOn = cloneStrings(t.DependsOn)
	s.tasks[t.ID] = t
	return cloneTask(t), nil
}

func (s *Store) GetTask(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s not found", id)
	}
	return cloneTask(t), nil
}

func (s *Store) ListTasks(_ context.Context, projectID string, filter task.Filter) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []task.Task
	for _, t := range s.tasks {
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		if !filter.Matches(t) {
			continue
		}
		result = append(result, cloneTask(t))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Position != result[j].Position {
			return result[i].Position < result[j].Position
		}
		return byCreation(result[i].CreatedAt, result[i].ID, result[j].CreatedAt, result[j].ID)
	})
	return result, nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s not found", id)
	}
	delete(s.tasks, id)

	for cid, c := range s.comments {
		if c.TaskID == id {
			delete(s.comments, cid)
		}
	}
	// Drop the deleted task from other tasks' dependency lists.
	for tid, t := range s.tasks {
		trimmed := t.DependsOn[:0]
		for _, dep := range t.DependsOn {
			if dep != id {
				trimmed = append(trimmed, dep)
			}
		}
		if len(trimmed) != len(t.DependsOn) {
			t.DependsOn = cloneStrings(trimmed)
			s.tasks[tid] = t
		}
	}
	return nil
}

func (s *Store) ListDueBefore(_ context.Context, cutoff time.Time) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []task.Task
	for _, t := range s.tasks {
		if t.Overdue || t.Status == task.StatusDone || t.DueDate.IsZero() {
			continue
		}
		if t.DueDate.Before(cutoff) {
			result = append(result, cloneTask(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DueDate.Before(result[j].DueDate) })
	return result, nil
}

// CommentStore implementation -------------------------------------------------

func (s *Store) CreateComment(_ context.Context, c comment.Comment) (comment.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[c.TaskID]; !ok {
		return comment.Comment{}, fmt.Errorf("task %s not found", c.TaskID)
	}
	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.comments[c.ID] = c
	return c, nil
}

func (s *Store) GetComment(_ context.Context, id string) (comment.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return comment.Comment{}, fmt.Errorf("comment %s not found", id)
	}
	return c, nil
}

func (s *Store) ListComments(_ context.Context, taskID string) ([]comment.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []comment.Comment
	for _, c := range s.comments {
		if c.TaskID == taskID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return byCreation(result[i].CreatedAt, result[i].ID, result[j].CreatedAt, result[j].ID)
	})
	return result, nil
}

func (s *Store) DeleteComment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[id]; !ok {
		return fmt.Errorf("comment %s not found", id)
	}
	delete(s.comments, id)
	return nil
}

// WaitlistStore implementation ------------------------------------------------

func (s *Store) CreateWaitlistEntry(_ context.Context, e waitlist.Entry) (waitlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(e.Email)
	if _, exists := s.waitlistByEmail[key]; exists {
		return waitlist.Entry{}, fmt.Errorf("email %s already on waitlist", e.Email)
	}
	if e.ID == "" {
		e.ID = s.nextIDLocked()
	}
	e.CreatedAt = time.Now().UTC()
	s.waitlist[e.ID] = e
	s.waitlistByEmail[key] = e.ID
	return e, nil
}

func (s *Store) GetWaitlistEntryByEmail(_ context.Context, email string) (waitlist.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.waitlistByEmail[strings.ToLower(email)]
	if !ok {
		return waitlist.Entry{}, fmt.Errorf("email %s not on waitlist", email)
	}
	return s.waitlist[id], nil
}

func (s *Store) ListWaitlistEntries(_ context.Context) ([]waitlist.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]waitlist.Entry, 0, len(s.waitlist))
	for _, e := range s.waitlist {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return byCreation(result[i].CreatedAt, result[i].ID, result[j].CreatedAt, result[j].ID)
	})
	return result, nil
}

// helpers ---------------------------------------------------------------------

func byCreation(aT time.Time, aID string, bT time.Time, bID string) bool {
	if !aT.Equal(bT) {
		return aT.Before(bT)
	}
	return aID < bID
}

func cloneTask(t task.Task) task.Task {
	t.DependsOn = cloneStrings(t.DependsOn)
	return t
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func removeMember(members []project.Member, userID string) []project.Member {
	var out []project.Member
	for _, m := range members {
		if m.UserID != userID {
			out = append(out, m)
		}
	}
	return out
}
