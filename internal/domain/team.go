package domain

type TeamRole string

const (
	TeamRoleDirector        TeamRole = "director"
	TeamRoleProducer        TeamRole = "producer"
	TeamRoleScreenwriter    TeamRole = "screenwriter"
	TeamRoleCinematographer TeamRole = "cinematographer"
	TeamRoleEditor          TeamRole = "editor"
	TeamRoleActor           TeamRole = "actor"
	TeamRoleMember          TeamRole = "member"
)

type TeamMember struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId"`
	UserID    string   `json:"userId"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	Role      TeamRole `json:"role"`
}
