// Package postgres implements the storage interfaces backed by PostgreSQL
// via sqlx. Schema is managed by the embedded migrations in this package.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/madfam-io/madlab/internal/app/domain/comment"
	"github.com/madfam-io/madlab/internal/app/domain/project"
	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/internal/app/domain/user"
	"github.com/madfam-io/madlab/internal/app/domain/waitlist"
	"github.com/madfam-io/madlab/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ProjectStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.CommentStore = (*Store)(nil)
var _ storage.WaitlistStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// NewFromDB wraps a plain *sql.DB. Used by tests with sqlmock.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// --- row types ---------------------------------------------------------------

type userRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	Role         string    `db:"role"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r userRow) domain() user.User {
	return user.User{
		ID:           r.ID,
		Email:        r.Email,
		Name:         r.Name,
		Role:         user.Role(r.Role),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type projectRow struct {
	ID          string         `db:"id"`
	OwnerID     sql.NullString `db:"owner_id"`
	Name        string         `db:"name"`
	Description string         `db:"description"`
	Color       string         `db:"color"`
	Archived    bool           `db:"archived"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r projectRow) domain() project.Project {
	return project.Project{
		ID:          r.ID,
		OwnerID:     r.OwnerID.String,
		Name:        r.Name,
		Description: r.Description,
		Color:       r.Color,
		Archived:    r.Archived,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type memberRow struct {
	ProjectID string    `db:"project_id"`
	UserID    string    `db:"user_id"`
	Role      string    `db:"role"`
	JoinedAt  time.Time `db:"joined_at"`
}

func (r memberRow) domain() project.Member {
	return project.Member{
		ProjectID: r.ProjectID,
		UserID:    r.UserID,
		Role:      project.MemberRole(r.Role),
		JoinedAt:  r.JoinedAt.UTC(),
	}
}

type taskRow struct {
	ID           string         `db:"id"`
	ProjectID    string         `db:"project_id"`
	AssigneeID   sql.NullString `db:"assignee_id"`
	LegacyID     sql.NullString `db:"legacy_id"`
	Title        string         `db:"title"`
	Notes        string         `db:"notes"`
	Status       string         `db:"status"`
	Priority     string         `db:"priority"`
	Position     int            `db:"sort_order"`
	StartDate    sql.NullTime   `db:"start_date"`
	DueDate      sql.NullTime   `db:"due_date"`
	DurationDays int            `db:"duration_days"`
	DependsOn    []byte         `db:"depends_on"`
	Progress     int            `db:"progress"`
	Overdue      bool           `db:"overdue"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r taskRow) domain() (task.Task, error) {
	t := task.Task{
		ID:           r.ID,
		ProjectID:    r.ProjectID,
		AssigneeID:   r.AssigneeID.String,
		LegacyID:     r.LegacyID.String,
		Title:        r.Title,
		Notes:        r.Notes,
		Status:       task.Status(r.Status),
		Priority:     task.Priority(r.Priority),
		Position:     r.Position,
		DurationDays: r.DurationDays,
		Progress:     r.Progress,
		Overdue:      r.Overdue,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.StartDate.Valid {
		t.StartDate = r.StartDate.Time.UTC()
	}
	if r.DueDate.Valid {
		t.DueDate = r.DueDate.Time.UTC()
	}
	if len(r.DependsOn) > 0 {
		if err := json.Unmarshal(r.DependsOn, &t.DependsOn); err != nil {
			return task.Task{}, fmt.Errorf("decode depends_on for task %s: %w", r.ID, err)
		}
	}
	return t, nil
}

type commentRow struct {
	ID        string         `db:"id"`
	TaskID    string         `db:"task_id"`
	AuthorID  sql.NullString `db:"author_id"`
	Body      string         `db:"body"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r commentRow) domain() comment.Comment {
	return comment.Comment{
		ID:        r.ID,
		TaskID:    r.TaskID,
		AuthorID:  r.AuthorID.String,
		Body:      r.Body,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type waitlistRow struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	Name      string    `db:"name"`
	Source    string    `db:"source"`
	CreatedAt time.Time `db:"created_at"`
}

func (r waitlistRow) domain() waitlist.Entry {
	return waitlist.Entry{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		Source:    r.Source,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// --- UserStore ---------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO madlab_users (id, email, name, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.Name, string(u.Role), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, fmt.Errorf("user with email %s already exists", u.Email)
		}
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE madlab_users
		SET email = $2, name = $3, role = $4, password_hash = $5, updated_at = $6
		WHERE id = $1
	`, u.ID, u.Email, u.Name, string(u.Role), u.PasswordHash, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, fmt.Errorf("user with email %s already exists", u.Email)
		}
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, name, role, password_hash, created_at, updated_at
		FROM madlab_users WHERE id = $1
	`, id)
	if err != nil {
		return user.User{}, err
	}
	return row.domain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, name, role, password_hash, created_at, updated_at
		FROM madlab_users WHERE lower(email) = lower($1)
	`, email)
	if err != nil {
		return user.User{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, email, name, role, password_hash, created_at, updated_at
		FROM madlab_users ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	result := make([]user.User, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM madlab_users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- ProjectStore ------------------------------------------------------------

func (s *Store) CreateProject(ctx context.Context, p project.Project) (project.Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO madlab_projects (id, owner_id, name, description, color, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, toNullString(p.OwnerID), p.Name, p.Description, p.Color, p.Archived, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return project.Project{}, err
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p project.Project) (project.Project, error) {
	existing, err := s.GetProject(ctx, p.ID)
	if err != nil {
		return project.Project{}, err
	}
	p.OwnerID = existing.OwnerID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE madlab_projects
		SET name = $2, description = $3, color = $4, archived = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, p.Name, p.Description, p.Color, p.Archived, p.UpdatedAt)
	if err != nil {
		return project.Project{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return project.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (project.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, owner_id, name, description, color, archived, created_at, updated_at
		FROM madlab_projects WHERE id = $1
	`, id)
	if err != nil {
		return project.Project{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]project.Project, error) {
	var rows []projectRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, owner_id, name, description, color, archived, created_at, updated_at
		FROM madlab_projects
		WHERE $1 = '' OR owner_id = $1
		ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	result := make([]project.Project, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM madlab_projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) AddMember(ctx context.Context, m project.Member) (project.Member, error) {
	m.JoinedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO madlab_project_members (project_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, m.ProjectID, m.UserID, string(m.Role), m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return project.Member{}, fmt.Errorf("user %s is already a member of project %s", m.UserID, m.ProjectID)
		}
		return project.Member{}, err
	}
	return m, nil
}

func (s *Store) RemoveMember(ctx context.Context, projectID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM madlab_project_members WHERE project_id = $1 AND user_id = $2
	`, projectID, userID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, projectID string) ([]project.Member, error) {
	var rows []memberRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT project_id, user_id, role, joined_at
		FROM madlab_project_members
		WHERE project_id = $1
		ORDER BY joined_at, user_id
	`, projectID)
	if err != nil {
		return nil, err
	}
	result := make([]project.Member, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

// --- TaskStore ---------------------------------------------------------------

const taskColumns = `id, project_id, assignee_id, legacy_id, title, notes, status, priority,
	sort_order, start_date, due_date, duration_days, depends_on, progress, overdue,
	created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	dependsJSON, err := json.Marshal(t.DependsOn)
	if err != nil {
		return task.Task{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO madlab_tasks (id, project_id, assignee_id, legacy_id, title, notes, status,
			priority, sort_order, start_date, due_date, duration_days, depends_on, progress,
			overdue, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, t.ID, t.ProjectID, toNullString(t.AssigneeID), toNullString(t.LegacyID), t.Title, t.Notes,
		string(t.Status), string(t.Priority), t.Position, toNullTime(t.StartDate),
		toNullTime(t.DueDate), t.DurationDays, dependsJSON, t.Progress, t.Overdue,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return task.Task{}, fmt.Errorf("task with legacy id %s already exists", t.LegacyID)
		}
		return task.Task{}, err
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t task.Task) (task.Task, error) {
	existing, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return task.Task{}, err
	}
	t.ProjectID = existing.ProjectID
	t.LegacyID = existing.LegacyID
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	dependsJSON, err := json.Marshal(t.DependsOn)
	if err != nil {
		return task.Task{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE madlab_tasks
		SET assignee_id = $2, title = $3, notes = $4, status = $5, priority = $6, sort_order = $7,
			start_date = $8, due_date = $9, duration_days = $10, depends_on = $11, progress = $12,
			overdue = $13, updated_at = $14
		WHERE id = $1
	`, t.ID, toNullString(t.AssigneeID), t.Title, t.Notes, string(t.Status), string(t.Priority),
		t.Position, toNullTime(t.StartDate), toNullTime(t.DueDate), t.DurationDays, dependsJSON,
		t.Progress, t.Overdue, t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return task.Task{}, sql.ErrNoRows
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+taskColumns+` FROM madlab_tasks WHERE id = $1
	`, id)
	if err != nil {
		return task.Task{}, err
	}
	return row.domain()
}

func (s *Store) ListTasks(ctx context.Context, projectID string, filter task.Filter) ([]task.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+taskColumns+`
		FROM madlab_tasks
		WHERE ($1 = '' OR project_id = $1)
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR priority = $3)
			AND ($4 = '' OR assignee_id = $4)
		ORDER BY sort_order, created_at, id
	`, projectID, string(filter.Status), string(filter.Priority), filter.AssigneeID)
	if err != nil {
		return nil, err
	}
	result := make([]task.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.domain()
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM madlab_tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}

	// Drop the task from other tasks' dependency lists; comments cascade in
	// the schema.
	_, err = s.db.ExecContext(ctx, `
		UPDATE madlab_tasks
		SET depends_on = (
			SELECT COALESCE(jsonb_agg(dep), '[]'::jsonb)
			FROM jsonb_array_elements_text(depends_on) AS dep
			WHERE dep <> $1
		)
		WHERE jsonb_exists(depends_on, $1)
	`, id)
	return err
}

func (s *Store) ListDueBefore(ctx context.Context, cutoff time.Time) ([]task.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+taskColumns+`
		FROM madlab_tasks
		WHERE overdue = FALSE AND status <> 'done' AND due_date IS NOT NULL AND due_date < $1
		ORDER BY due_date, id
	`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	result := make([]task.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.domain()
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// --- CommentStore ------------------------------------------------------------

func (s *Store) CreateComment(ctx context.Context, c comment.Comment) (comment.Comment, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO madlab_task_comments (id, task_id, author_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.TaskID, toNullString(c.AuthorID), c.Body, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return comment.Comment{}, err
	}
	return c, nil
}

func (s *Store) GetComment(ctx context.Context, id string) (comment.Comment, error) {
	var row commentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, task_id, author_id, body, created_at, updated_at
		FROM madlab_task_comments WHERE id = $1
	`, id)
	if err != nil {
		return comment.Comment{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListComments(ctx context.Context, taskID string) ([]comment.Comment, error) {
	var rows []commentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, author_id, body, created_at, updated_at
		FROM madlab_task_comments
		WHERE task_id = $1
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, err
	}
	result := make([]comment.Comment, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

func (s *Store) DeleteComment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM madlab_task_comments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- WaitlistStore -----------------------------------------------------------

func (s *Store) CreateWaitlistEntry(ctx context.Context, e waitlist.Entry) (waitlist.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO madlab_waitlist (id, email, name, source, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.Email, e.Name, e.Source, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return waitlist.Entry{}, fmt.Errorf("email %s already on waitlist", e.Email)
		}
		return waitlist.Entry{}, err
	}
	return e, nil
}

func (s *Store) GetWaitlistEntryByEmail(ctx context.Context, email string) (waitlist.Entry, error) {
	var row waitlistRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, name, source, created_at
		FROM madlab_waitlist WHERE lower(email) = lower($1)
	`, email)
	if err != nil {
		return waitlist.Entry{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListWaitlistEntries(ctx context.Context) ([]waitlist.Entry, error) {
	var rows []waitlistRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, email, name, source, created_at
		FROM madlab_waitlist ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	result := make([]waitlist.Entry, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

// helpers ---------------------------------------------------------------------

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
