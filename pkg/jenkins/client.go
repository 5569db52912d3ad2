// Package jenkins talks to the build host's remote API. It implements the
// job-management surface the dispatcher and lifecycle components work
// against, including the scoped privilege elevation used while listing
// jobs on behalf of anonymous webhook callers.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"buildhook/internal"
	"buildhook/internal/jobs"
)

type credentials struct {
	user  string
	token string
}

type credentialKey struct{}

// Client is a Jenkins remote API client. It carries two credentials: the
// caller credential used by default and a system credential activated
// per-call through RunAsSystem.
type Client struct {
	baseURL string
	caller  credentials
	system  credentials
	client  *http.Client
}

// NewClient builds a client from the host configuration.
func NewClient(cfg internal.JenkinsConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, internal.Configurationf("jenkins url is required")
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		caller:  credentials{user: cfg.User, token: cfg.Token},
		system:  credentials{user: cfg.SystemUser, token: cfg.SystemToken},
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// RunAsSystem runs fn with the system credential bound to the context.
// The elevation lives only in the derived context, so the caller's
// credential is back in effect on every exit path, panics included.
func (c *Client) RunAsSystem(ctx context.Context, fn func(context.Context) error) error {
	if c.system.user == "" {
		return fn(ctx)
	}
	return fn(context.WithValue(ctx, credentialKey{}, c.system))
}

func (c *Client) credentialsFor(ctx context.Context) credentials {
	if cred, ok := ctx.Value(credentialKey{}).(credentials); ok {
		return cred
	}
	return c.caller
}

type listedJob struct {
	Name        string `json:"name"`
	Buildable   bool   `json:"buildable"`
	Description string `json:"description"`
}

// ListJobs enumerates all jobs visible to the active credential, fetching
// each job's config.xml to resolve its source-control setup and build
// parameters.
func (c *Client) ListJobs(ctx context.Context) ([]jobs.Record, error) {
	var listing struct {
		Jobs []listedJob `json:"jobs"`
	}
	if err := c.getJSON(ctx, "/api/json?tree=jobs[name,buildable,description]", &listing); err != nil {
		return nil, err
	}
	records := make([]jobs.Record, 0, len(listing.Jobs))
	for _, item := range listing.Jobs {
		record := jobs.Record{
			Name:        item.Name,
			Buildable:   item.Buildable,
			Description: item.Description,
		}
		raw, err := c.JobConfig(ctx, item.Name)
		if err != nil {
			// A job whose config cannot be read never matches; leave its
			// SCM list empty instead of failing the whole listing.
			records = append(records, record)
			continue
		}
		parsed := parseConfig(raw)
		record.SCM = parsed.SCM
		record.Parameters = parsed.Parameters
		record.Parameterized = parsed.Parameterized
		record.IgnoreNotify = parsed.IgnoreNotify
		records = append(records, record)
	}
	return records, nil
}

// ScheduleBuild queues a parameterized build.
func (c *Client) ScheduleBuild(ctx context.Context, job, cause string, params map[string]string) error {
	form := url.Values{}
	if cause != "" {
		form.Set("cause", cause)
	}
	for name, value := range params {
		form.Set(name, value)
	}
	return c.postForm(ctx, jobPath(job)+"/buildWithParameters", form)
}

// SchedulePoll asks the job to run one SCM polling cycle. A missing
// polling endpoint means the job has no SCM trigger; that is a normal
// falsy outcome, not an error.
func (c *Client) SchedulePoll(ctx context.Context, job string) (bool, error) {
	err := c.postForm(ctx, jobPath(job)+"/polling", nil)
	if internal.KindOf(err) == internal.KindNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PendingChanges reports whether the job currently sits in the build
// queue with unbuilt changes.
func (c *Client) PendingChanges(ctx context.Context, job string) (bool, error) {
	var state struct {
		InQueue bool `json:"inQueue"`
	}
	if err := c.getJSON(ctx, jobPath(job)+"/api/json?tree=inQueue", &state); err != nil {
		return false, err
	}
	return state.InQueue, nil
}

// CopyJob clones an existing job under a new name.
func (c *Client) CopyJob(ctx context.Context, src, dst string) error {
	form := url.Values{}
	form.Set("name", dst)
	form.Set("mode", "copy")
	form.Set("from", src)
	return c.postForm(ctx, "/createItem?"+form.Encode(), nil)
}

// ConfigureBranch rewrites the job's git configuration to track exactly
// one branch, optionally with a pre-build merge target, and clears any
// polling trigger so the clone builds only on webhook pushes.
func (c *Client) ConfigureBranch(ctx context.Context, job, branch, mergeTarget string) error {
	raw, err := c.JobConfig(ctx, job)
	if err != nil {
		return err
	}
	updated, err := rewriteBranch(raw, branch, mergeTarget)
	if err != nil {
		return err
	}
	return c.UpdateJobConfig(ctx, job, updated)
}

// SetDescription replaces the job description.
func (c *Client) SetDescription(ctx context.Context, job, description string) error {
	form := url.Values{}
	form.Set("description", description)
	return c.postForm(ctx, jobPath(job)+"/description", form)
}

// EnableJob makes the job buildable.
func (c *Client) EnableJob(ctx context.Context, job string) error {
	return c.postForm(ctx, jobPath(job)+"/enable", nil)
}

// DeleteJob removes the job.
func (c *Client) DeleteJob(ctx context.Context, job string) error {
	return c.postForm(ctx, jobPath(job)+"/doDelete", nil)
}

// JobConfig fetches the job's raw config.xml.
func (c *Client) JobConfig(ctx context.Context, job string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, jobPath(job)+"/config.xml", "", nil)
}

// UpdateJobConfig replaces the job's config.xml.
func (c *Client) UpdateJobConfig(ctx context.Context, job string, config []byte) error {
	_, err := c.do(ctx, http.MethodPost, jobPath(job)+"/config.xml", "application/xml", strings.NewReader(string(config)))
	return err
}

func jobPath(job string) string {
	return "/job/" + url.PathEscape(job)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	var body io.Reader
	contentType := ""
	if len(form) > 0 {
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	_, err := c.do(ctx, http.MethodPost, path, contentType, body)
	return err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	cred := c.credentialsFor(ctx)
	if cred.user != "" {
		req.SetBasicAuth(cred.user, cred.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, internal.Unexpectedf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, internal.Unexpectedf(err, "reading %s %s", method, path)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		return raw, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, internal.NotFoundf("%s %s: not found", method, path)
	default:
		return nil, internal.Unexpectedf(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), "%s %s", method, path)
	}
}
