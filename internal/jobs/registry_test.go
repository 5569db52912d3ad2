package jobs

import (
	"context"
	"errors"
	"testing"

	"buildhook/internal"
	"buildhook/internal/event"
)

// fakeSystem implements System with a fixed job list; mutations fail the
// test if called.
type fakeSystem struct {
	System
	jobs []Record
	err  error
}

func (f *fakeSystem) ListJobs(ctx context.Context) ([]Record, error) {
	return f.jobs, f.err
}

// recordingPriv counts elevations so tests can assert enumeration runs
// under the system credential.
type recordingPriv struct {
	calls int
}

func (p *recordingPriv) RunAsSystem(ctx context.Context, fn func(context.Context) error) error {
	p.calls++
	return fn(ctx)
}

func testHooks() internal.HooksConfig {
	return internal.HooksConfig{
		MasterBranch:     "master",
		AnyBranchPattern: "**",
		BranchParameter:  "BRANCH",
	}
}

func pushTo(t *testing.T, ref string) event.Details {
	t.Helper()
	p, err := event.NewPush("git@example.com:diaspora.git", "diaspora", ref,
		"0000000000000000000000000000000000000000", "da1560886d", nil, nil)
	if err != nil {
		t.Fatalf("NewPush: %v", err)
	}
	return p
}

// TestRegistryAllElevates tests that enumeration runs under the system
// credential and drops unbuildable jobs.
func TestRegistryAllElevates(t *testing.T) {
	disabled := gitJob("old", "master")
	disabled.Buildable = false
	sys := &fakeSystem{jobs: []Record{gitJob("diaspora", "master"), disabled}}
	priv := &recordingPriv{}
	reg := NewRegistry(sys, priv, testHooks(), nil)

	all, err := reg.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].Name != "diaspora" {
		t.Fatalf("expected only the buildable job, got %v", all)
	}
	if priv.calls != 1 {
		t.Fatalf("expected one elevation, got %d", priv.calls)
	}
}

// TestRegistryAllError tests that a listing failure surfaces as an
// unexpected fault.
func TestRegistryAllError(t *testing.T) {
	sys := &fakeSystem{err: errors.New("connection refused")}
	reg := NewRegistry(sys, nil, testHooks(), nil)

	if _, err := reg.All(context.Background()); internal.KindOf(err) != internal.KindUnexpected {
		t.Fatalf("expected unexpected fault, got %v", err)
	}
}

// TestRegistryMatching tests event-driven selection over the job list.
func TestRegistryMatching(t *testing.T) {
	sys := &fakeSystem{jobs: []Record{
		gitJob("diaspora-master", "origin/master"),
		gitJob("diaspora-feature", "origin/feature"),
	}}
	reg := NewRegistry(sys, nil, testHooks(), nil)

	found, err := reg.Matching(context.Background(), pushTo(t, "refs/heads/master"), false)
	if err != nil {
		t.Fatalf("Matching: %v", err)
	}
	if len(found) != 1 || found[0].Name != "diaspora-master" {
		t.Fatalf("expected diaspora-master, got %v", found)
	}
}

// TestRegistryNamed tests name lookup.
func TestRegistryNamed(t *testing.T) {
	sys := &fakeSystem{jobs: []Record{gitJob("diaspora", "master")}}
	reg := NewRegistry(sys, nil, testHooks(), nil)

	found, err := reg.Named(context.Background(), "diaspora")
	if err != nil {
		t.Fatalf("Named: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected one job, got %v", found)
	}
	found, err = reg.Named(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Named: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected no jobs, got %v", found)
	}
}

// TestRegistryMaster tests the template lookup with its any-branch
// fallback.
func TestRegistryMaster(t *testing.T) {
	sys := &fakeSystem{jobs: []Record{gitJob("diaspora", "origin/master")}}
	reg := NewRegistry(sys, nil, testHooks(), nil)

	master, err := reg.Master(context.Background(), pushTo(t, "refs/heads/feature"))
	if err != nil {
		t.Fatalf("Master: %v", err)
	}
	if master == nil || master.Name != "diaspora" {
		t.Fatalf("expected diaspora as template, got %v", master)
	}

	sys.jobs = []Record{gitJob("diaspora-any", "**")}
	master, err = reg.Master(context.Background(), pushTo(t, "refs/heads/feature"))
	if err != nil {
		t.Fatalf("Master fallback: %v", err)
	}
	if master == nil || master.Name != "diaspora-any" {
		t.Fatalf("expected any-branch fallback, got %v", master)
	}

	sys.jobs = nil
	master, err = reg.Master(context.Background(), pushTo(t, "refs/heads/feature"))
	if err != nil || master != nil {
		t.Fatalf("expected no template and no error, got %v, %v", master, err)
	}
}

// TestRegistryMasterNotCloneable tests the configuration fault for a
// template whose SCM cannot be cloned.
func TestRegistryMasterNotCloneable(t *testing.T) {
	job := gitJob("diaspora", "origin/master")
	job.SCM[0].Kind = KindMultiSCM
	sys := &fakeSystem{jobs: []Record{job}}
	reg := NewRegistry(sys, nil, testHooks(), nil)

	_, err := reg.Master(context.Background(), pushTo(t, "refs/heads/feature"))
	if internal.KindOf(err) != internal.KindConfiguration {
		t.Fatalf("expected configuration fault, got %v", err)
	}
}
