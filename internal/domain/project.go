package domain

import "time"

type ProjectStatus string

const (
	ProjectStatusPlanning  ProjectStatus = "planning"
	ProjectStatusShooting  ProjectStatus = "shooting"
	ProjectStatusEditing   ProjectStatus = "editing"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusSuspended ProjectStatus = "suspended"
)

type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Genre        string        `json:"genre,omitempty"`
	Status       ProjectStatus `json:"status"`
	EpisodeCount int           `json:"episodeCount"`
	CoverURL     string        `json:"coverUrl,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ProjectInput is the writable subset of a Project
type ProjectInput struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Genre        string        `json:"genre,omitempty"`
	Status       ProjectStatus `json:"status,omitempty"`
	EpisodeCount int           `json:"episodeCount,omitempty"`
	CoverURL     string        `json:"coverUrl,omitempty"`
}

type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}
