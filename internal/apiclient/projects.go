package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"slices"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/domain"
)

var projectListPattern = regexp.MustCompile(`^GET /projects(\?|$)`)

// projectPattern matches the project itself and everything nested below it
func projectPattern(id string) *regexp.Regexp {
	return regexp.MustCompile(`^GET ` + regexp.QuoteMeta(projectPath(id)) + `(/|\?|$)`)
}

func storyboardPattern(projectID string) *regexp.Regexp {
	return regexp.MustCompile(`^GET ` + regexp.QuoteMeta(projectPath(projectID)+"/storyboards") + `(\?|$)`)
}

func (c *Client) ListProjects(ctx context.Context, page int, pageSize int) (domain.Page[domain.Project], error) {
	if page < 1 || pageSize < 1 {
		return domain.Page[domain.Project]{}, fmt.Errorf("%w: page and pageSize must be positive", domain.ErrBadRequest)
	}
	projects, err := c.listProjects(ctx, pageQuery{page: page, pageSize: pageSize})
	if err != nil {
		return domain.Page[domain.Project]{}, err
	}
	// The cached page is shared with other callers
	projects.Items = slices.Clone(projects.Items)
	return projects, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return c.getProject(ctx, id)
}

func (c *Client) CreateProject(ctx context.Context, input domain.ProjectInput) (domain.Project, error) {
	project, err := request[domain.Project](ctx, c, http.MethodPost, "/projects", nil, input)
	if err != nil {
		return domain.Project{}, err
	}

	c.dedup.InvalidatePattern(projectListPattern)
	return project, nil
}

func (c *Client) UpdateProject(ctx context.Context, id string, input domain.ProjectInput) (domain.Project, error) {
	project, err := request[domain.Project](ctx, c, http.MethodPut, projectPath(id), nil, input)
	if err != nil {
		return domain.Project{}, err
	}

	c.dedup.InvalidatePattern(projectListPattern)
	c.dedup.InvalidatePattern(projectPattern(id))
	return project, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	_, err := request[struct{}](ctx, c, http.MethodDelete, projectPath(id), nil, nil)
	if err != nil {
		return err
	}

	c.dedup.InvalidatePattern(projectListPattern)
	c.dedup.InvalidatePattern(projectPattern(id))
	return nil
}
