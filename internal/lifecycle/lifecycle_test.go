package lifecycle

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"buildhook/internal"
	"buildhook/internal/dispatch"
	"buildhook/internal/event"
	"buildhook/internal/jobs"
)

const marker = "Automatically created by buildhook"

// fakeSystem implements jobs.System in memory, recording every mutation.
type fakeSystem struct {
	jobs []jobs.Record
	ops  []string
}

func (f *fakeSystem) ListJobs(ctx context.Context) ([]jobs.Record, error) { return f.jobs, nil }

func (f *fakeSystem) ScheduleBuild(ctx context.Context, job, cause string, params map[string]string) error {
	f.ops = append(f.ops, "build "+job)
	return nil
}

func (f *fakeSystem) SchedulePoll(ctx context.Context, job string) (bool, error) {
	f.ops = append(f.ops, "poll "+job)
	return true, nil
}

func (f *fakeSystem) PendingChanges(ctx context.Context, job string) (bool, error) {
	return true, nil
}

func (f *fakeSystem) CopyJob(ctx context.Context, src, dst string) error {
	f.ops = append(f.ops, fmt.Sprintf("copy %s %s", src, dst))
	return nil
}

func (f *fakeSystem) ConfigureBranch(ctx context.Context, job, branch, mergeTarget string) error {
	f.ops = append(f.ops, fmt.Sprintf("configure %s %s %s", job, branch, mergeTarget))
	return nil
}

func (f *fakeSystem) SetDescription(ctx context.Context, job, description string) error {
	f.ops = append(f.ops, "describe "+job)
	return nil
}

func (f *fakeSystem) EnableJob(ctx context.Context, job string) error {
	f.ops = append(f.ops, "enable "+job)
	return nil
}

func (f *fakeSystem) DeleteJob(ctx context.Context, job string) error {
	f.ops = append(f.ops, "delete "+job)
	return nil
}

func (f *fakeSystem) mutations(kind string) []string {
	var out []string
	for _, op := range f.ops {
		if strings.HasPrefix(op, kind+" ") {
			out = append(out, op)
		}
	}
	return out
}

// auditLog records audit calls in order and remembers which jobs it has
// seen created.
type auditLog struct {
	entries []string
	known   map[string]bool
}

func (a *auditLog) RecordCreated(ctx context.Context, job, repository, branch string) error {
	a.entries = append(a.entries, "created "+job)
	if a.known == nil {
		a.known = map[string]bool{}
	}
	a.known[job] = true
	return nil
}

func (a *auditLog) MarkDeleted(ctx context.Context, job string) error {
	a.entries = append(a.entries, "deleted "+job)
	return nil
}

func (a *auditLog) WasCreated(ctx context.Context, job string) (bool, error) {
	return a.known[job], nil
}

func trackedJob(name, spec string, withMarker bool) jobs.Record {
	job := jobs.Record{
		Name:      name,
		Buildable: true,
		SCM: []jobs.SCMConfig{{
			Kind:        jobs.KindGit,
			Remotes:     []jobs.Remote{{Name: "origin", URL: "git@example.com:diaspora.git"}},
			BranchSpecs: []string{spec},
		}},
	}
	if withMarker {
		job.Description = marker
	}
	return job
}

func testHooks(autoCreate bool) internal.HooksConfig {
	return internal.HooksConfig{
		MasterBranch:      "master",
		AutoCreate:        autoCreate,
		AnyBranchPattern:  "**",
		DescriptionMarker: marker,
		BranchParameter:   "BRANCH",
	}
}

func newLifecycle(sys *fakeSystem, hooks internal.HooksConfig, audit Audit) *Lifecycle {
	registry := jobs.NewRegistry(sys, nil, hooks, nil)
	dispatcher := dispatch.NewDispatcher(sys, hooks, nil)
	return New(registry, sys, dispatcher, hooks, audit, nil)
}

func push(t *testing.T, ref, after string) event.Details {
	t.Helper()
	p, err := event.NewPush("git@example.com:diaspora.git", "diaspora", ref,
		"95790bf89103", after, nil, nil)
	if err != nil {
		t.Fatalf("NewPush: %v", err)
	}
	return p
}

func mergeRequest(t *testing.T, state, mergeStatus string) *event.MergeRequest {
	t.Helper()
	mr, err := event.NewMergeRequest(1, 1, "git@example.com:diaspora.git", "diaspora",
		"feature", "develop", state, mergeStatus, nil)
	if err != nil {
		t.Fatalf("NewMergeRequest: %v", err)
	}
	return mr
}

// TestPushBuildsExactMatch tests that a push to an existing branch job
// dispatches a build without creating anything.
func TestPushBuildsExactMatch(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora_feature", "origin/feature", true)}}
	l := newLifecycle(sys, testHooks(true), nil)

	lines, err := l.ProcessPush(context.Background(), push(t, "refs/heads/feature", "da1560886d"))
	if err != nil {
		t.Fatalf("ProcessPush: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "scheduled for build") {
		t.Fatalf("unexpected lines %v", lines)
	}
	if got := sys.mutations("copy"); len(got) != 0 {
		t.Fatalf("no job should be created, got %v", got)
	}
}

// TestPushAutoCreates tests the clone path: exactly one copy with the
// description marker set, followed by exactly one build on the clone.
func TestPushAutoCreates(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora", "origin/master", false)}}
	audit := &auditLog{}
	l := newLifecycle(sys, testHooks(true), audit)

	lines, err := l.ProcessPush(context.Background(), push(t, "refs/heads/feature", "da1560886d"))
	if err != nil {
		t.Fatalf("ProcessPush: %v", err)
	}
	wantOps := []string{
		"copy diaspora diaspora_feature",
		"configure diaspora_feature feature ",
		"describe diaspora_feature",
		"enable diaspora_feature",
		"build diaspora_feature",
	}
	if len(sys.ops) != len(wantOps) {
		t.Fatalf("ops = %v, want %v", sys.ops, wantOps)
	}
	for i, op := range wantOps {
		if sys.ops[i] != op {
			t.Fatalf("op[%d] = %q, want %q", i, sys.ops[i], op)
		}
	}
	if len(lines) != 2 || !strings.Contains(lines[1], "scheduled for build") {
		t.Fatalf("unexpected lines %v", lines)
	}
	if len(audit.entries) != 1 || audit.entries[0] != "created diaspora_feature" {
		t.Fatalf("unexpected audit entries %v", audit.entries)
	}
}

// TestCreateRejectsEmptyBranch tests that a parameter trigger carrying
// only a repository url is refused before the clone path runs, instead of
// cloning a job named after an empty branch.
func TestCreateRejectsEmptyBranch(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora", "origin/master", false)}}
	l := newLifecycle(sys, testHooks(true), nil)

	params, err := event.NewParams(url.Values{"url": {"git@example.com:diaspora.git"}})
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	_, err = l.ProcessPush(context.Background(), params)
	if internal.KindOf(err) != internal.KindBadRequest {
		t.Fatalf("expected a bad-request fault, got %v", err)
	}
	if len(sys.ops) != 0 {
		t.Fatalf("no mutation expected, got %v", sys.ops)
	}
}

// TestPushNoMatchDisabled tests the not-found fault when auto-creation is
// off and nothing matches.
func TestPushNoMatchDisabled(t *testing.T) {
	sys := &fakeSystem{}
	l := newLifecycle(sys, testHooks(false), nil)

	_, err := l.ProcessPush(context.Background(), push(t, "refs/heads/feature", "da1560886d"))
	if internal.KindOf(err) != internal.KindNotFound {
		t.Fatalf("expected not-found fault, got %v", err)
	}
}

// TestCreateCollision tests that an existing job under the clone name that
// does not track the branch is a configuration fault.
func TestCreateCollision(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{
		trackedJob("diaspora", "origin/master", false),
		trackedJob("diaspora_feature", "origin/unrelated", false),
	}}
	l := newLifecycle(sys, testHooks(true), nil)

	_, err := l.ProcessPush(context.Background(), push(t, "refs/heads/feature", "da1560886d"))
	if internal.KindOf(err) != internal.KindConfiguration {
		t.Fatalf("expected configuration fault, got %v", err)
	}
	if got := sys.mutations("copy"); len(got) != 0 {
		t.Fatalf("collision must not overwrite, got %v", got)
	}
}

// TestCreateAlreadyCloned tests that a clone done by an earlier delivery
// just gets a build.
func TestCreateAlreadyCloned(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{
		trackedJob("diaspora", "origin/master", false),
		trackedJob("diaspora_feature", "origin/feature", true),
	}}
	l := newLifecycle(sys, testHooks(true), nil)

	// The exact match already triggers a build before creation is tried;
	// call CreateForBranch directly to exercise the collision branch.
	lines, err := l.CreateForBranch(context.Background(), push(t, "refs/heads/feature", "da1560886d"), "")
	if err != nil {
		t.Fatalf("CreateForBranch: %v", err)
	}
	if len(sys.mutations("copy")) != 0 {
		t.Fatalf("existing clone must not be copied again")
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "scheduled for build") {
		t.Fatalf("unexpected lines %v", lines)
	}
}

// TestDeleteMasterRefused tests that the master branch job survives a
// delete event no matter what.
func TestDeleteMasterRefused(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora", "origin/master", true)}}
	l := newLifecycle(sys, testHooks(true), nil)

	lines, err := l.ProcessPush(context.Background(), push(t, "refs/heads/master", event.ZeroSHA))
	if err != nil {
		t.Fatalf("ProcessPush: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "never removed") {
		t.Fatalf("unexpected lines %v", lines)
	}
	if got := sys.mutations("delete"); len(got) != 0 {
		t.Fatalf("master must never be deleted, got %v", got)
	}
}

// TestDeleteMarkerGuard tests that only marker-carrying jobs are removed.
func TestDeleteMarkerGuard(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{
		trackedJob("manual_feature", "origin/feature", false),
	}}
	l := newLifecycle(sys, testHooks(true), nil)

	lines, err := l.ProcessDelete(context.Background(), push(t, "refs/heads/feature", event.ZeroSHA))
	if err != nil {
		t.Fatalf("ProcessDelete: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "skipping deletion") {
		t.Fatalf("unexpected lines %v", lines)
	}
	if got := sys.mutations("delete"); len(got) != 0 {
		t.Fatalf("unmarked job must survive, got %v", got)
	}

	audit := &auditLog{known: map[string]bool{"diaspora_feature": true}}
	sys = &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora_feature", "origin/feature", true)}}
	l = newLifecycle(sys, testHooks(true), audit)

	lines, err = l.ProcessDelete(context.Background(), push(t, "refs/heads/feature", event.ZeroSHA))
	if err != nil {
		t.Fatalf("ProcessDelete: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "deleted") {
		t.Fatalf("unexpected lines %v", lines)
	}
	if got := sys.mutations("delete"); len(got) != 1 || got[0] != "delete diaspora_feature" {
		t.Fatalf("unexpected deletions %v", got)
	}
	if len(audit.entries) != 1 || audit.entries[0] != "deleted diaspora_feature" {
		t.Fatalf("unexpected audit entries %v", audit.entries)
	}
}

// TestDeleteAuditGuard tests the second opinion: a marker-carrying job the
// audit store never saw created stays put.
func TestDeleteAuditGuard(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora_feature", "origin/feature", true)}}
	audit := &auditLog{}
	l := newLifecycle(sys, testHooks(true), audit)

	lines, err := l.ProcessDelete(context.Background(), push(t, "refs/heads/feature", event.ZeroSHA))
	if err != nil {
		t.Fatalf("ProcessDelete: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "no creation record") {
		t.Fatalf("unexpected lines %v", lines)
	}
	if got := sys.mutations("delete"); len(got) != 0 {
		t.Fatalf("unknown job must survive, got %v", got)
	}

	// The full cycle clears itself: create, then delete the branch.
	sys = &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora", "origin/master", false)}}
	audit = &auditLog{}
	l = newLifecycle(sys, testHooks(true), audit)
	if _, err := l.ProcessPush(context.Background(), push(t, "refs/heads/feature", "da1560886d")); err != nil {
		t.Fatalf("ProcessPush: %v", err)
	}
	sys.jobs = []jobs.Record{trackedJob("diaspora_feature", "origin/feature", true)}
	lines, err = l.ProcessDelete(context.Background(), push(t, "refs/heads/feature", event.ZeroSHA))
	if err != nil {
		t.Fatalf("ProcessDelete: %v", err)
	}
	if got := sys.mutations("delete"); len(got) != 1 || got[0] != "delete diaspora_feature" {
		t.Fatalf("recorded clone must be deleted, got %v", got)
	}
}

// TestDeleteDisabled tests the no-op when auto-creation is off.
func TestDeleteDisabled(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora_feature", "origin/feature", true)}}
	l := newLifecycle(sys, testHooks(false), nil)

	lines, err := l.ProcessDelete(context.Background(), push(t, "refs/heads/feature", event.ZeroSHA))
	if err != nil {
		t.Fatalf("ProcessDelete: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "disabled") {
		t.Fatalf("unexpected lines %v", lines)
	}
	if got := sys.mutations("delete"); len(got) != 0 {
		t.Fatalf("nothing should be deleted, got %v", got)
	}
}

// TestMergeRequestNotReady tests the cannot_be_merged skip on an open
// merge request.
func TestMergeRequestNotReady(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora_mr", "origin/feature", true)}}
	l := newLifecycle(sys, testHooks(true), nil)

	lines, err := l.ProcessMergeRequest(context.Background(), mergeRequest(t, event.StateOpened, event.MergeStatusCannotBeMerged))
	if err != nil {
		t.Fatalf("ProcessMergeRequest: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "cannot be merged") {
		t.Fatalf("unexpected lines %v", lines)
	}
	if len(sys.ops) != 0 {
		t.Fatalf("not-ready merge request must cause zero mutations, got %v", sys.ops)
	}
}

// TestMergeRequestOpenedBuilds tests building existing merge clones.
func TestMergeRequestOpenedBuilds(t *testing.T) {
	job := trackedJob("diaspora_mr", "origin/feature", true)
	job.SCM[0].MergeTarget = "develop"
	sys := &fakeSystem{jobs: []jobs.Record{job}}
	l := newLifecycle(sys, testHooks(true), nil)

	lines, err := l.ProcessMergeRequest(context.Background(), mergeRequest(t, event.StateOpened, event.MergeStatusCanBeMerged))
	if err != nil {
		t.Fatalf("ProcessMergeRequest: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "scheduled for build") {
		t.Fatalf("unexpected lines %v", lines)
	}
	if got := sys.mutations("build"); len(got) != 1 || got[0] != "build diaspora_mr" {
		t.Fatalf("unexpected builds %v", got)
	}
}

// TestMergeRequestOpenedCreates tests the create path with the target
// branch preset as merge target.
func TestMergeRequestOpenedCreates(t *testing.T) {
	sys := &fakeSystem{jobs: []jobs.Record{trackedJob("diaspora", "origin/master", false)}}
	l := newLifecycle(sys, testHooks(true), nil)

	_, err := l.ProcessMergeRequest(context.Background(), mergeRequest(t, event.StateOpened, event.MergeStatusCanBeMerged))
	if err != nil {
		t.Fatalf("ProcessMergeRequest: %v", err)
	}
	configures := sys.mutations("configure")
	if len(configures) != 1 || configures[0] != "configure diaspora_feature feature develop" {
		t.Fatalf("unexpected configure calls %v", configures)
	}
}

// TestMergeRequestClosedDeletes tests garbage collection of the transient
// merge clones.
func TestMergeRequestClosedDeletes(t *testing.T) {
	job := trackedJob("diaspora_mr", "origin/feature", true)
	job.SCM[0].MergeTarget = "develop"
	other := trackedJob("diaspora_other", "origin/feature", true)
	other.SCM[0].MergeTarget = "release"
	sys := &fakeSystem{jobs: []jobs.Record{job, other}}
	l := newLifecycle(sys, testHooks(true), nil)

	_, err := l.ProcessMergeRequest(context.Background(), mergeRequest(t, event.StateClosed, event.MergeStatusCanBeMerged))
	if err != nil {
		t.Fatalf("ProcessMergeRequest: %v", err)
	}
	if got := sys.mutations("delete"); len(got) != 1 || got[0] != "delete diaspora_mr" {
		t.Fatalf("only the targeted clone must go, got %v", got)
	}
}

// TestMergeRequestUnknownState tests the skip on unrecognized states.
func TestMergeRequestUnknownState(t *testing.T) {
	sys := &fakeSystem{}
	l := newLifecycle(sys, testHooks(true), nil)

	lines, err := l.ProcessMergeRequest(context.Background(), mergeRequest(t, "locked", event.MergeStatusCanBeMerged))
	if err != nil {
		t.Fatalf("ProcessMergeRequest: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "unrecognized state") {
		t.Fatalf("unexpected lines %v", lines)
	}
}
