// Package lifecycle manages per-branch job clones: creating them on the
// first push or merge request of a new branch and garbage-collecting them
// when the branch is deleted or the merge request closes.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"buildhook/internal"
	"buildhook/internal/dispatch"
	"buildhook/internal/event"
	"buildhook/internal/jobs"
)

// Audit records clone creations and deletions for later inspection, and
// answers whether a job was created by this system. A nil Audit disables
// both recording and the secondary deletion guard.
type Audit interface {
	RecordCreated(ctx context.Context, job, repository, branch string) error
	MarkDeleted(ctx context.Context, job string) error
	WasCreated(ctx context.Context, job string) (bool, error)
}

// Lifecycle drives the branch-job state machine over a job registry.
type Lifecycle struct {
	registry   *jobs.Registry
	system     jobs.System
	dispatcher *dispatch.Dispatcher
	hooks      internal.HooksConfig
	audit      Audit
	logger     *log.Logger

	// creating guards the check-then-act window between the collision
	// check and the copy. Two deliveries for the same branch inside one
	// process serialize here; deliveries landing on different processes
	// still race and are caught by the collision check alone.
	creatingMu sync.Mutex
	creating   map[string]*sync.Mutex
}

func New(registry *jobs.Registry, system jobs.System, dispatcher *dispatch.Dispatcher, hooks internal.HooksConfig, audit Audit, logger *log.Logger) *Lifecycle {
	if logger == nil {
		logger = log.Default()
	}
	return &Lifecycle{
		registry:   registry,
		system:     system,
		dispatcher: dispatcher,
		hooks:      hooks,
		audit:      audit,
		logger:     logger,
		creating:   map[string]*sync.Mutex{},
	}
}

// ProcessPush handles a push or tag event: build the exactly matching
// jobs, or auto-create a branch clone when none exists.
func (l *Lifecycle) ProcessPush(ctx context.Context, details event.Details) ([]string, error) {
	if details.IsDelete() {
		return l.ProcessDelete(ctx, details)
	}
	exact, err := l.registry.Matching(ctx, details, true)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		return l.dispatcher.BuildNowAll(ctx, exact, details), nil
	}
	if !l.hooks.AutoCreate || details.Branch() == l.hooks.MasterBranch || details.IsTag() {
		// No clone wanted; fall back to loose matching.
		loose, err := l.registry.Matching(ctx, details, false)
		if err != nil {
			return nil, err
		}
		if len(loose) == 0 {
			return nil, internal.NotFoundf("no job matches repository %s branch %s", details.RepositoryURL(), details.Branch())
		}
		return l.dispatcher.BuildNowAll(ctx, loose, details), nil
	}
	return l.CreateForBranch(ctx, details, "")
}

// CreateForBranch clones the repository's master job for the event's
// branch and triggers the first build on the clone. mergeTarget, when
// non-empty, presets a pre-build merge on the clone.
func (l *Lifecycle) CreateForBranch(ctx context.Context, details event.Details, mergeTarget string) ([]string, error) {
	if details.Branch() == "" {
		return nil, internal.BadRequestf("cannot create a job for repository %s: no branch in the event", details.RepositoryURL())
	}
	master, err := l.registry.Master(ctx, details)
	if err != nil {
		return nil, err
	}
	if master == nil {
		return nil, internal.NotFoundf("no template job for repository %s", details.RepositoryURL())
	}
	name := l.cloneName(*master, details)

	lock := l.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.registry.Named(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		job := existing[0]
		if !job.Matches(jobs.Query{
			Repository: details.RepositoryURL(),
			Branch:     details.Branch(),
			FullRef:    details.FullRef(),
			Exact:      true,
			Logger:     l.logger,
		}) {
			return nil, internal.Configurationf("job %s already exists but does not track branch %s of %s", name, details.Branch(), details.RepositoryURL())
		}
		// Already cloned, probably by an earlier delivery.
		return []string{l.dispatcher.BuildNow(ctx, job, details)}, nil
	}

	if err := l.system.CopyJob(ctx, master.Name, name); err != nil {
		return nil, internal.Unexpectedf(err, "copying job %s to %s", master.Name, name)
	}
	if err := l.system.ConfigureBranch(ctx, name, details.Branch(), mergeTarget); err != nil {
		return nil, internal.Unexpectedf(err, "configuring branch on job %s", name)
	}
	if err := l.system.SetDescription(ctx, name, l.hooks.DescriptionMarker); err != nil {
		return nil, internal.Unexpectedf(err, "marking job %s", name)
	}
	if err := l.system.EnableJob(ctx, name); err != nil {
		return nil, internal.Unexpectedf(err, "enabling job %s", name)
	}
	internal.IncJobCreated()
	if l.audit != nil {
		if err := l.audit.RecordCreated(ctx, name, details.RepositoryURL(), details.Branch()); err != nil {
			l.logger.Printf("recording creation of %s: %v", name, err)
		}
	}

	clone := *master
	clone.Name = name
	clone.Buildable = true
	clone.Description = l.hooks.DescriptionMarker
	lines := []string{
		fmt.Sprintf("job %s created for branch %s", name, details.Branch()),
		l.dispatcher.BuildNow(ctx, clone, details),
	}
	return lines, nil
}

// ProcessDelete handles a branch-deletion event with the marker guard:
// only jobs created by this system are removed.
func (l *Lifecycle) ProcessDelete(ctx context.Context, details event.Details) ([]string, error) {
	if !l.hooks.AutoCreate {
		return []string{"automatic branch job creation is disabled, ignoring deleted branch"}, nil
	}
	if details.Branch() == l.hooks.MasterBranch {
		return []string{fmt.Sprintf("refusing to delete %s: the master branch job is never removed", l.hooks.MasterBranch)}, nil
	}
	matches, err := l.registry.Matching(ctx, details, true)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []string{fmt.Sprintf("no job tracks deleted branch %s", details.Branch())}, nil
	}
	var lines []string
	for _, job := range matches {
		lines = append(lines, l.deleteClone(ctx, job))
	}
	return lines, nil
}

// ProcessMergeRequest handles the merge-request lifecycle: build or create
// on open, delete the transient clones on close.
func (l *Lifecycle) ProcessMergeRequest(ctx context.Context, mr *event.MergeRequest) ([]string, error) {
	closed := mr.State() == event.StateClosed || mr.State() == event.StateMerged
	if mr.MergeStatus() == event.MergeStatusCannotBeMerged && !closed {
		return []string{fmt.Sprintf("merge request %s into %s cannot be merged yet, skipping", mr.SourceBranch(), mr.TargetBranch())}, nil
	}

	matches, err := l.registry.Matching(ctx, mr, false)
	if err != nil {
		return nil, err
	}
	var targeted []jobs.Record
	for _, job := range matches {
		if job.MergeTarget() == mr.TargetBranch() {
			targeted = append(targeted, job)
		}
	}

	switch mr.State() {
	case event.StateOpened, event.StateReopened:
		if len(targeted) > 0 {
			return l.dispatcher.BuildNowAll(ctx, targeted, mr), nil
		}
		lines, err := l.CreateForBranch(ctx, mr, mr.TargetBranch())
		if internal.KindOf(err) == internal.KindNotFound {
			return []string{fmt.Sprintf("no candidate job for merge request %s into %s", mr.SourceBranch(), mr.TargetBranch())}, nil
		}
		return lines, err
	case event.StateClosed, event.StateMerged:
		if len(targeted) == 0 {
			return []string{fmt.Sprintf("no job tracks merge request %s into %s", mr.SourceBranch(), mr.TargetBranch())}, nil
		}
		var lines []string
		for _, job := range targeted {
			lines = append(lines, l.deleteClone(ctx, job))
		}
		return lines, nil
	default:
		return []string{fmt.Sprintf("skipping merge request in unrecognized state %q", mr.State())}, nil
	}
}

func (l *Lifecycle) deleteClone(ctx context.Context, job jobs.Record) string {
	if !strings.Contains(job.Description, l.hooks.DescriptionMarker) {
		return fmt.Sprintf("job %s was not created automatically, skipping deletion", job.Name)
	}
	// Second opinion from the audit store: a marked job it never saw was
	// not created here. Audit failures fall back to the marker alone.
	if l.audit != nil {
		created, err := l.audit.WasCreated(ctx, job.Name)
		if err != nil {
			l.logger.Printf("audit lookup for %s: %v", job.Name, err)
		} else if !created {
			return fmt.Sprintf("job %s has no creation record, skipping deletion", job.Name)
		}
	}
	if err := l.system.DeleteJob(ctx, job.Name); err != nil {
		l.logger.Printf("deleting %s: %v", job.Name, err)
		return fmt.Sprintf("job %s failed to delete: %v", job.Name, err)
	}
	internal.IncJobDeleted()
	if l.audit != nil {
		if err := l.audit.MarkDeleted(ctx, job.Name); err != nil {
			l.logger.Printf("recording deletion of %s: %v", job.Name, err)
		}
	}
	return fmt.Sprintf("job %s deleted", job.Name)
}

// cloneName derives the clone's job name from the template or repository
// name plus the branch, with path separators flattened.
func (l *Lifecycle) cloneName(master jobs.Record, details event.Details) string {
	base := details.RepositoryName()
	if l.hooks.UseMasterJobName || base == "" {
		base = master.Name
	}
	name := base + "_" + details.Branch()
	return strings.ReplaceAll(name, "/", "_")
}

// nameLock returns the creation mutex for a target job name. Locks are
// kept for the process lifetime; the map is bounded by the number of
// distinct branch names seen.
func (l *Lifecycle) nameLock(name string) *sync.Mutex {
	l.creatingMu.Lock()
	defer l.creatingMu.Unlock()
	lock, ok := l.creating[name]
	if !ok {
		lock = &sync.Mutex{}
		l.creating[name] = lock
	}
	return lock
}
