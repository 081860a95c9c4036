package project

import "time"

// Project groups tasks under a single board.
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MemberRole classifies what a member may do within a project.
type MemberRole string

const (
	MemberOwner  MemberRole = "owner"
	MemberEditor MemberRole = "editor"
	MemberViewer MemberRole = "viewer"
)

// Valid reports whether the member role is one of the known values.
func (r MemberRole) Valid() bool {
	switch r {
	case MemberOwner, MemberEditor, MemberViewer:
		return true
	}
	return false
}

// Member links a user to a project with a role. The (project, user) pair
// is unique.
type Member struct {
	ProjectID string     `json:"project_id"`
	UserID    string     `json:"user_id"`
	Role      MemberRole `json:"role"`
	JoinedAt  time.Time  `json:"joined_at"`
}
