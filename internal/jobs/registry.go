package jobs

import (
	"context"
	"log"

	"buildhook/internal"
	"buildhook/internal/event"
)

// Registry answers matching queries over all jobs known to the host.
type Registry struct {
	system System
	priv   PrivilegeContext
	hooks  internal.HooksConfig
	logger *log.Logger
}

// NewRegistry builds a Registry. priv may be nil, in which case enumeration
// runs under the caller's own credential.
func NewRegistry(system System, priv PrivilegeContext, hooks internal.HooksConfig, logger *log.Logger) *Registry {
	if priv == nil {
		priv = AsCaller{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{system: system, priv: priv, hooks: hooks, logger: logger}
}

// All enumerates every buildable job. The webhook caller is typically
// anonymous and would see no jobs at all, so enumeration runs under the
// system credential; the elevation is scoped to this call only.
func (r *Registry) All(ctx context.Context) ([]Record, error) {
	var listed []Record
	err := r.priv.RunAsSystem(ctx, func(ctx context.Context) error {
		records, err := r.system.ListJobs(ctx)
		if err != nil {
			return err
		}
		listed = records
		return nil
	})
	if err != nil {
		return nil, internal.Unexpectedf(err, "enumerating jobs")
	}
	out := listed[:0:0]
	for _, record := range listed {
		if record.Buildable {
			out = append(out, record)
		}
	}
	return out, nil
}

// Matching filters All by the event's repository and branch.
func (r *Registry) Matching(ctx context.Context, details event.Details, exact bool) ([]Record, error) {
	return r.matching(ctx, details.RepositoryURL(), details.Branch(), details.FullRef(), exact)
}

func (r *Registry) matching(ctx context.Context, repoURL, branch, fullRef string, exact bool) ([]Record, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	query := Query{
		Repository:      repoURL,
		Branch:          branch,
		FullRef:         fullRef,
		Exact:           exact,
		BranchParameter: r.hooks.BranchParameter,
		Logger:          r.logger,
	}
	var out []Record
	for _, record := range all {
		if record.Matches(query) {
			out = append(out, record)
		}
	}
	return out, nil
}

// Named returns the jobs with exactly the given name (zero or one in
// practice; the host enforces unique names).
func (r *Registry) Named(ctx context.Context, name string) ([]Record, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, record := range all {
		if record.Name == name {
			out = append(out, record)
		}
	}
	return out, nil
}

// Master finds the template job for the event's repository: the job
// matching the configured master branch, or failing that the any-branch
// pattern. Returns nil when neither exists. A template whose
// source-control setup cannot be cloned is a configuration fault.
func (r *Registry) Master(ctx context.Context, details event.Details) (*Record, error) {
	master := r.hooks.MasterBranch
	found, err := r.matching(ctx, details.RepositoryURL(), master, "refs/heads/"+master, false)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		any := r.hooks.AnyBranchPattern
		found, err = r.matching(ctx, details.RepositoryURL(), any, "refs/heads/"+any, false)
		if err != nil {
			return nil, err
		}
	}
	if len(found) == 0 {
		return nil, nil
	}
	record := found[0]
	if !record.Cloneable() {
		return nil, internal.Configurationf("job %s uses a source-control setup this system cannot clone", record.Name)
	}
	return &record, nil
}
