// Package dispatch triggers polling cycles and parameterized builds on
// matched jobs. Every per-job outcome is folded into a status line so one
// failing job never aborts its siblings in the same batch.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"

	"buildhook/internal"
	"buildhook/internal/event"
	"buildhook/internal/jobs"
	"buildhook/internal/scm"
)

// Dispatcher implements the notify-commit and build-now use cases against
// a job system.
type Dispatcher struct {
	system jobs.System
	hooks  internal.HooksConfig
	logger *log.Logger

	// CheckPending short-circuits BuildNow when the job reports no
	// unbuilt changes. Off by default: the probe costs one extra round
	// trip per job.
	CheckPending bool
}

func NewDispatcher(system jobs.System, hooks internal.HooksConfig, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{system: system, hooks: hooks, logger: logger}
}

// NotifyCommit asks one job to run a polling cycle and reports the outcome
// as a status line. A falsy polling result is a normal outcome, not an
// error: the job simply has no SCM trigger configured.
func (d *Dispatcher) NotifyCommit(ctx context.Context, job jobs.Record) string {
	if job.IgnoreNotify {
		return fmt.Sprintf("job %s ignores notify-commit triggers", job.Name)
	}
	if !job.Buildable {
		return fmt.Sprintf("job %s is not buildable, skipping", job.Name)
	}
	scheduled, err := d.system.SchedulePoll(ctx, job.Name)
	if err != nil {
		d.logger.Printf("polling %s: %v", job.Name, err)
		return fmt.Sprintf("job %s failed to schedule polling: %v", job.Name, err)
	}
	if !scheduled {
		return fmt.Sprintf("job %s could not be scheduled for polling", job.Name)
	}
	return fmt.Sprintf("job %s scheduled for polling", job.Name)
}

// BuildNow schedules a parameterized build on one job and reports the
// outcome as a status line.
func (d *Dispatcher) BuildNow(ctx context.Context, job jobs.Record, details event.Details) string {
	if job.IgnoreNotify {
		return fmt.Sprintf("job %s ignores notify-commit triggers", job.Name)
	}
	if !job.Buildable {
		return fmt.Sprintf("job %s is not buildable, skipping", job.Name)
	}
	if d.CheckPending {
		pending, err := d.system.PendingChanges(ctx, job.Name)
		if err != nil {
			// The probe is an optimization; on failure build anyway.
			d.logger.Printf("pending changes %s: %v", job.Name, err)
		} else if !pending {
			return fmt.Sprintf("job %s has no pending changes, skipping build", job.Name)
		}
	}
	cause := buildCause(details)
	params := d.buildParameters(job, details)
	if err := d.system.ScheduleBuild(ctx, job.Name, cause, params); err != nil {
		d.logger.Printf("build %s: %v", job.Name, err)
		return fmt.Sprintf("job %s failed to schedule build: %v", job.Name, err)
	}
	internal.IncBuildScheduled(job.Name)
	return fmt.Sprintf("job %s scheduled for build", job.Name)
}

// NotifyCommitAll runs NotifyCommit over a batch, one status line per job.
func (d *Dispatcher) NotifyCommitAll(ctx context.Context, batch []jobs.Record) []string {
	lines := make([]string, 0, len(batch))
	for _, job := range batch {
		lines = append(lines, d.NotifyCommit(ctx, job))
	}
	return lines
}

// BuildNowAll runs BuildNow over a batch, one status line per job.
func (d *Dispatcher) BuildNowAll(ctx context.Context, batch []jobs.Record, details event.Details) []string {
	lines := make([]string, 0, len(batch))
	for _, job := range batch {
		lines = append(lines, d.BuildNow(ctx, job, details))
	}
	return lines
}

// buildCause renders the human-readable build cause shown in the host's
// build history.
func buildCause(details event.Details) string {
	host := scm.ParseIdentity(details.RepositoryURL()).Host
	if host == "" {
		host = details.RepositoryURL()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "triggered by push on %s", host)
	commits := details.Commits()
	if len(commits) == 0 {
		b.WriteString(": no payload available")
		return b.String()
	}
	for _, c := range commits {
		fmt.Fprintf(&b, "\n%s: %s", c.URL, strings.TrimSpace(c.Message))
	}
	return b.String()
}

// buildParameters resolves each configured build parameter: the flat event
// payload wins over the configured default, and the branch-name parameter
// always carries the event's actual branch or tag.
func (d *Dispatcher) buildParameters(job jobs.Record, details event.Details) map[string]string {
	if len(job.Parameters) == 0 {
		return nil
	}
	flat := details.Payload()
	branchParams := map[string]bool{}
	for _, cfg := range job.SCM {
		for _, p := range job.BranchParameters(cfg, d.hooks.BranchParameter) {
			branchParams[p.Name] = true
		}
	}
	params := make(map[string]string, len(job.Parameters))
	for _, p := range job.Parameters {
		value := p.Default
		if v, ok := flat[p.Name]; ok {
			value = fmt.Sprint(v)
		}
		if branchParams[p.Name] {
			value = details.Branch()
		}
		params[p.Name] = value
	}
	return params
}
