// Package gitlabapi wraps the GitLab REST API for the two calls this
// system needs: resolving project clone URLs when a merge-request payload
// omits them, and posting commit build status from the example workers.
package gitlabapi

import (
	"context"

	gitlab "github.com/xanzy/go-gitlab"

	"buildhook/internal"
)

// Project is the subset of project metadata used for repository matching.
type Project struct {
	Name    string
	SSHURL  string
	HTTPURL string
}

// Client talks to one GitLab instance.
type Client struct {
	api *gitlab.Client
}

// NewClient builds a client from the host configuration.
func NewClient(cfg internal.GitLabConfig) (*Client, error) {
	var opts []gitlab.ClientOptionFunc
	if cfg.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(cfg.BaseURL))
	}
	api, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, internal.Configurationf("gitlab client: %v", err)
	}
	return &Client{api: api}, nil
}

// Project resolves a project's name and clone URLs by id.
func (c *Client) Project(ctx context.Context, id int64) (*Project, error) {
	project, _, err := c.api.Projects.GetProject(int(id), nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, internal.Unexpectedf(err, "looking up project %d", id)
	}
	return &Project{
		Name:    project.Name,
		SSHURL:  project.SSHURLToRepo,
		HTTPURL: project.HTTPURLToRepo,
	}, nil
}

// SetCommitStatus posts a build status for one commit.
func (c *Client) SetCommitStatus(ctx context.Context, projectID int64, sha, state, name, targetURL string) error {
	opt := &gitlab.SetCommitStatusOptions{
		State: gitlab.BuildStateValue(state),
	}
	if name != "" {
		opt.Name = gitlab.String(name)
	}
	if targetURL != "" {
		opt.TargetURL = gitlab.String(targetURL)
	}
	_, _, err := c.api.Commits.SetCommitStatus(int(projectID), sha, opt, gitlab.WithContext(ctx))
	if err != nil {
		return internal.Unexpectedf(err, "setting commit status on %d@%s", projectID, sha)
	}
	return nil
}
