package domain

import "time"

type AssetType string

const (
	AssetTypeCharacter AssetType = "character"
	AssetTypeScene     AssetType = "scene"
	AssetTypeProp      AssetType = "prop"
	AssetTypeAudio     AssetType = "audio"
	AssetTypeVideo     AssetType = "video"
)

type Asset struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Type      AssetType `json:"type"`
	URL       string    `json:"url"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
