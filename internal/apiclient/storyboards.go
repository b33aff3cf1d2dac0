package apiclient

import (
	"context"
	"net/http"
	"slices"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/domain"
)

func (c *Client) ListStoryboards(ctx context.Context, projectID string) ([]domain.Storyboard, error) {
	return cloned(c.listStoryboards(ctx, projectID))
}

func (c *Client) CreateStoryboard(ctx context.Context, projectID string, input domain.StoryboardInput) (domain.Storyboard, error) {
	storyboard, err := request[domain.Storyboard](ctx, c, http.MethodPost, projectPath(projectID)+"/storyboards", nil, input)
	if err != nil {
		return domain.Storyboard{}, err
	}

	c.dedup.InvalidatePattern(storyboardPattern(projectID))
	return storyboard, nil
}

func (c *Client) ListAssets(ctx context.Context, projectID string) ([]domain.Asset, error) {
	return cloned(c.listAssets(ctx, projectID))
}

func (c *Client) ListTeamMembers(ctx context.Context, projectID string) ([]domain.TeamMember, error) {
	return cloned(c.listTeamMembers(ctx, projectID))
}

// cloned copies a slice read through the cache so callers can't modify the
// value other callers receive
func cloned[T any](items []T, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	return slices.Clone(items), nil
}
