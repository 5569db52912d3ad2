// Package webhook exposes the HTTP surface: the GitLab payload endpoint
// plus the parameter-style notify and build triggers.
package webhook

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"

	"github.com/go-playground/webhooks/v6/gitlab"

	"buildhook/internal"
	"buildhook/internal/event"
	"buildhook/internal/lifecycle"
	"buildhook/internal/notify"
)

// GitLabHandler processes GitLab webhook deliveries.
type GitLabHandler struct {
	hook      *gitlab.Webhook
	filters   *internal.FilterEngine
	lifecycle *lifecycle.Lifecycle
	notifier  notify.Notifier
	resolver  Resolver
	logger    *log.Logger
}

// Resolver resolves project clone URLs by id; nil disables lookup.
type Resolver func(ctx context.Context, id int64) (name, sshURL string, err error)

var gitlabEvents = []gitlab.Event{
	gitlab.PushEvents,
	gitlab.TagEvents,
	gitlab.MergeRequestEvents,
}

// NewGitLabHandler builds the handler. secret, filters, notifier and
// resolver are all optional.
func NewGitLabHandler(secret string, filters *internal.FilterEngine, lc *lifecycle.Lifecycle, notifier notify.Notifier, resolver Resolver, logger *log.Logger) (*GitLabHandler, error) {
	options := make([]gitlab.Option, 0, 1)
	if secret != "" {
		options = append(options, gitlab.Options.Secret(secret))
	}
	hook, err := gitlab.New(options...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &GitLabHandler{
		hook:      hook,
		filters:   filters,
		lifecycle: lc,
		notifier:  notifier,
		resolver:  resolver,
		logger:    logger,
	}, nil
}

func (h *GitLabHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(rawBody))

	payload, err := h.hook.Parse(r, gitlabEvents...)
	if err != nil {
		internal.IncParseError("gitlab")
		h.logger.Printf("gitlab parse failed: %v", err)
		writeFault(w, h.logger, internal.BadRequestf("unrecognized gitlab payload: %v", err))
		return
	}

	details, buildErr := h.toEvent(r.Context(), payload, rawBody)
	if buildErr != nil {
		internal.IncParseError("gitlab")
		writeFault(w, h.logger, buildErr)
		return
	}
	internal.IncEvent(details.Kind())

	if h.filters != nil {
		raw, _ := rawObjectAndFlatten(rawBody)
		if skip, reason := h.filters.Skip(details.Payload(), raw); skip {
			lines := []string{reason}
			publishOutcomes(r.Context(), h.notifier, h.logger, details, lines)
			writeLines(w, lines)
			return
		}
	}

	lines, err := h.process(r.Context(), details)
	if err != nil {
		publishFailure(r.Context(), h.notifier, h.logger, details, err)
		writeFault(w, h.logger, err)
		return
	}
	publishOutcomes(r.Context(), h.notifier, h.logger, details, lines)
	writeLines(w, lines)
}

func (h *GitLabHandler) process(ctx context.Context, details event.Details) ([]string, error) {
	if mr, ok := details.(*event.MergeRequest); ok {
		return h.lifecycle.ProcessMergeRequest(ctx, mr)
	}
	return h.lifecycle.ProcessPush(ctx, details)
}

// toEvent converts a parsed webhook payload into the matching engine's
// event shape.
func (h *GitLabHandler) toEvent(ctx context.Context, payload interface{}, rawBody []byte) (event.Details, error) {
	_, flat := rawObjectAndFlatten(rawBody)
	switch p := payload.(type) {
	case gitlab.PushEventPayload:
		return event.NewPush(cloneURL(p.Project), p.Project.Name, p.Ref, p.Before, p.After, commitsOf(p.Commits), flat)
	case gitlab.TagEventPayload:
		return event.NewPush(cloneURL(p.Project), p.Project.Name, p.Ref, p.Before, p.After, commitsOf(p.Commits), flat)
	case gitlab.MergeRequestEventPayload:
		attrs := p.ObjectAttributes
		mr, err := event.NewMergeRequest(
			attrs.SourceProjectID,
			attrs.TargetProjectID,
			sourceCloneURL(attrs.Source),
			attrs.Source.Name,
			attrs.SourceBranch,
			attrs.TargetBranch,
			attrs.State,
			attrs.MergeStatus,
			flat,
		)
		if err != nil {
			return nil, err
		}
		if mr.RepositoryURL() == "" && h.resolver != nil {
			name, sshURL, lookupErr := h.resolver(ctx, attrs.SourceProjectID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			mr = mr.WithRepositoryURL(sshURL, name)
		}
		if mr.RepositoryURL() == "" {
			return nil, internal.BadRequestf("merge request payload carries no source repository url")
		}
		return mr, nil
	default:
		return nil, internal.BadRequestf("unsupported gitlab event payload %T", payload)
	}
}

func cloneURL(project gitlab.Project) string {
	switch {
	case project.GitSSHURL != "":
		return project.GitSSHURL
	case project.SSHURL != "":
		return project.SSHURL
	case project.GitHTTPURL != "":
		return project.GitHTTPURL
	default:
		return project.HTTPURL
	}
}

func sourceCloneURL(source gitlab.Source) string {
	switch {
	case source.GitSSHURL != "":
		return source.GitSSHURL
	case source.SSHURL != "":
		return source.SSHURL
	case source.GitHTTPURL != "":
		return source.GitHTTPURL
	default:
		return source.HTTPURL
	}
}

func commitsOf(commits []gitlab.Commit) []event.Commit {
	out := make([]event.Commit, 0, len(commits))
	for _, c := range commits {
		out = append(out, event.Commit{URL: c.URL, Message: c.Message})
	}
	return out
}
