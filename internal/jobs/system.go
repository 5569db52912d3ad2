package jobs

import "context"

// System is the job-management surface of the build host. Mutations are
// assumed individually atomic; nothing here coordinates concurrent webhook
// deliveries.
type System interface {
	// ListJobs enumerates every job the credential can see.
	ListJobs(ctx context.Context) ([]Record, error)
	// ScheduleBuild queues a build with the given cause and parameters.
	ScheduleBuild(ctx context.Context, job, cause string, params map[string]string) error
	// SchedulePoll asks the job to run one SCM polling cycle. A false
	// result without error means the job has no SCM trigger configured.
	SchedulePoll(ctx context.Context, job string) (bool, error)
	// PendingChanges reports whether the job sees unbuilt SCM changes.
	PendingChanges(ctx context.Context, job string) (bool, error)
	// CopyJob clones an existing job under a new name.
	CopyJob(ctx context.Context, src, dst string) error
	// ConfigureBranch rewrites the job's git configuration to track one
	// branch (and optionally a pre-build merge target), clearing any
	// polling trigger.
	ConfigureBranch(ctx context.Context, job, branch, mergeTarget string) error
	// SetDescription replaces the job description.
	SetDescription(ctx context.Context, job, description string) error
	// EnableJob makes the job buildable.
	EnableJob(ctx context.Context, job string) error
	// DeleteJob removes the job.
	DeleteJob(ctx context.Context, job string) error
}

// PrivilegeContext runs a function under the system credential. The
// elevated scope must be restored on every exit path, panics included.
type PrivilegeContext interface {
	RunAsSystem(ctx context.Context, fn func(context.Context) error) error
}

// AsCaller is the no-elevation PrivilegeContext, useful in tests and for
// deployments whose webhook credential already sees all jobs.
type AsCaller struct{}

func (AsCaller) RunAsSystem(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
