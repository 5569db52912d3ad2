// Package jobs wraps the build host's jobs behind matching predicates and a
// registry that answers "which jobs respond to this repository and branch".
package jobs

import (
	"log"
	"strings"

	"buildhook/internal/scm"
)

// Kind tags the source-control flavor of a job configuration, resolved once
// at load time.
type Kind string

const (
	KindGit         Kind = "git"
	KindMultiSCM    Kind = "multi"
	KindUnsupported Kind = "unsupported"
)

// Parameter types recognized for branch-name substitution.
const (
	ParamString = "string"
	ParamChoice = "choice"
	ParamOther  = "other"
)

// Remote is one configured fetch remote of a job.
type Remote struct {
	Name     string
	URL      string
	Refspecs []string
}

// SCMConfig is one source-control configuration of a job. Freestyle jobs
// have exactly one; multi-SCM jobs have several.
type SCMConfig struct {
	Kind        Kind
	Remotes     []Remote
	BranchSpecs []string
	// Inverse marks a build chooser that builds everything except the
	// matching branches; the whole match result is negated.
	Inverse bool
	// MergeTarget is the pre-build merge target branch, if configured.
	MergeTarget string
}

// Parameter is one build parameter definition of a job.
type Parameter struct {
	Name    string
	Type    string
	Default string
	Choices []string
}

// Record is a read-only view of one build job. It is created transiently
// per request and never cached across requests.
type Record struct {
	Name          string
	Buildable     bool
	Parameterized bool
	IgnoreNotify  bool
	Description   string
	SCM           []SCMConfig
	Parameters    []Parameter
}

// Query carries the inputs of one matching pass.
type Query struct {
	Repository string // clone URL
	Branch     string // short branch or tag name
	FullRef    string // refs/heads/... or refs/tags/...
	Exact      bool
	// BranchParameter is the configured parameter name that receives the
	// branch on parameterized triggers.
	BranchParameter string
	Logger          *log.Logger
}

// MergeTarget returns the first configured pre-build merge target, or "".
func (r Record) MergeTarget() string {
	for _, cfg := range r.SCM {
		if cfg.MergeTarget != "" {
			return cfg.MergeTarget
		}
	}
	return ""
}

// Cloneable reports whether the job's source-control setup can be copied
// for a new branch: a single git configuration, nothing else.
func (r Record) Cloneable() bool {
	if len(r.SCM) != 1 {
		return false
	}
	return r.SCM[0].Kind == KindGit
}

// UsesRepository reports whether any configured remote points at the given
// clone URL.
func (r Record) UsesRepository(repoURL string) bool {
	want := scm.ParseIdentity(repoURL)
	for _, cfg := range r.SCM {
		for _, remote := range cfg.Remotes {
			if scm.ParseIdentity(remote.URL).Matches(want) {
				return true
			}
		}
	}
	return false
}

// Matches decides whether this job responds to the queried repository and
// branch. Inverse build choosers negate the decision of their
// configuration. A misconfigured branch parameter (wrong type) is logged
// and treated as no match so one broken job cannot abort a batch.
func (r Record) Matches(q Query) bool {
	if !r.Buildable {
		return false
	}
	for _, cfg := range r.SCM {
		matched := r.configMatches(cfg, q)
		if cfg.Inverse {
			matched = !matched
		}
		if matched {
			return true
		}
	}
	return false
}

func (r Record) configMatches(cfg SCMConfig, q Query) bool {
	want := scm.ParseIdentity(q.Repository)
	repoMatch := false
	for _, remote := range cfg.Remotes {
		if scm.ParseIdentity(remote.URL).Matches(want) {
			repoMatch = true
			break
		}
	}
	if !repoMatch {
		return false
	}

	// a configured merge target always counts as a match for its branch
	if cfg.MergeTarget != "" && cfg.MergeTarget == q.Branch {
		return true
	}

	for _, remote := range cfg.Remotes {
		if !scm.ParseIdentity(remote.URL).Matches(want) {
			continue
		}
		if !refspecCovers(remote, q.FullRef) {
			continue
		}
		remoteName := remote.Name
		if remoteName == "" {
			remoteName = "origin"
		}
		for _, spec := range cfg.BranchSpecs {
			token := remoteName + "/" + q.Branch
			switch {
			case strings.HasPrefix(spec, "refs/"):
				token = q.FullRef
			case strings.HasPrefix(spec, "*/"):
				token = "*/" + q.Branch
			}
			if q.Exact {
				if spec == token {
					return true
				}
				continue
			}
			if scm.BranchSpecMatches(spec, token) {
				return true
			}
		}
	}

	if q.Exact || !r.Parameterized {
		return false
	}
	return r.parameterFallback(cfg, q)
}

// parameterFallback treats a recognized branch-name parameter as a wildcard
// match. A parameter literally named "tagname" only matches tag refs.
func (r Record) parameterFallback(cfg SCMConfig, q Query) bool {
	recognized := r.BranchParameters(cfg, q.BranchParameter)
	if len(recognized) == 0 {
		return false
	}
	for _, param := range recognized {
		if param.Type != ParamString && param.Type != ParamChoice {
			logf(q.Logger, "job %s: branch parameter %s has unsupported type %s, job skipped", r.Name, param.Name, param.Type)
			return false
		}
	}
	if len(recognized) == 1 && strings.EqualFold(recognized[0].Name, "tagname") {
		return strings.HasPrefix(q.FullRef, "refs/tags/")
	}
	return true
}

// BranchParameters lists the parameters that stand for the branch name:
// those referenced by a branch spec as $NAME or ${NAME}, plus the
// explicitly configured parameter name.
func (r Record) BranchParameters(cfg SCMConfig, configured string) []Parameter {
	var out []Parameter
	for _, param := range r.Parameters {
		if configured != "" && strings.EqualFold(param.Name, configured) {
			out = append(out, param)
			continue
		}
		for _, spec := range cfg.BranchSpecs {
			if strings.Contains(spec, "$"+param.Name) || strings.Contains(spec, "${"+param.Name+"}") {
				out = append(out, param)
				break
			}
		}
	}
	return out
}

func refspecCovers(remote Remote, fullRef string) bool {
	refspecs := remote.Refspecs
	if len(refspecs) == 0 {
		refspecs = []string{scm.DefaultRefspec(remote.Name)}
	}
	for _, refspec := range refspecs {
		if scm.RefspecSourceMatches(refspec, fullRef) {
			return true
		}
	}
	return false
}

func logf(logger *log.Logger, format string, args ...interface{}) {
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}
