package scm

import "strings"

// BranchSpecMatches implements the branch-specifier convention used by git
// build triggers. Specs and candidates are slash-separated ref tokens; a "*"
// in the spec matches exactly one candidate segment, and wildcards are only
// honored on the spec side.
//
// One asymmetry is deliberate: a spec without a slash (a bare branch name
// such as "master") stands for "any remote / that branch". The candidate's
// first segment is discarded before comparing, so "master" matches
// "origin/master" and "other/master" but not the bare token "master".
//
// Candidates under "refs/" are only reachable by specs that themselves start
// with "refs/".
func BranchSpecMatches(spec, candidate string) bool {
	if spec == "" || candidate == "" {
		return false
	}

	candidateIsRef := strings.HasPrefix(candidate, "refs/")
	specIsRef := strings.HasPrefix(spec, "refs/")
	if candidateIsRef != specIsRef {
		return false
	}

	candidateSegs := strings.Split(candidate, "/")
	if !strings.Contains(spec, "/") {
		// bare branch name: drop the remote segment
		candidateSegs = candidateSegs[1:]
	}
	specSegs := strings.Split(spec, "/")

	if len(specSegs) != len(candidateSegs) {
		return false
	}
	for i, seg := range specSegs {
		if seg == "*" {
			continue
		}
		// "**" and every other segment only match literally
		if seg != candidateSegs[i] {
			return false
		}
	}
	return true
}
