package domain

import "time"

// Storyboard is a single shot in an episode
type Storyboard struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	Episode         int       `json:"episode"`
	SceneNumber     int       `json:"sceneNumber"`
	ShotNumber      int       `json:"shotNumber"`
	ShotType        string    `json:"shotType,omitempty"`
	CameraMovement  string    `json:"cameraMovement,omitempty"`
	Description     string    `json:"description,omitempty"`
	Dialogue        string    `json:"dialogue,omitempty"`
	DurationSeconds float64   `json:"durationSeconds"`
	ImageURL        string    `json:"imageUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type StoryboardInput struct {
	Episode         int     `json:"episode"`
	SceneNumber     int     `json:"sceneNumber"`
	ShotNumber      int     `json:"shotNumber"`
	ShotType        string  `json:"shotType,omitempty"`
	CameraMovement  string  `json:"cameraMovement,omitempty"`
	Description     string  `json:"description,omitempty"`
	Dialogue        string  `json:"dialogue,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	ImageURL        string  `json:"imageUrl,omitempty"`
}
