// Package event holds the normalized representation of an inbound webhook
// event, independent of how the transport encoded it (JSON body or flat
// HTTP parameters). Values are built once per request and are immutable.
package event

import "strings"

// Commit is one commit reference carried by a push payload.
type Commit struct {
	URL     string
	Message string
}

// Details is the capability set shared by all event variants.
type Details interface {
	// Kind is "push", "tag_push", "merge_request" or "parameters".
	Kind() string
	// RepositoryURL is the clone URL of the repository the event refers to.
	RepositoryURL() string
	// RepositoryName is the human-readable repository name, possibly empty.
	RepositoryName() string
	// Branch is the short branch (or tag) name.
	Branch() string
	// FullRef is the complete ref path, e.g. refs/heads/master.
	FullRef() string
	// IsDelete reports whether the event signals a branch deletion.
	IsDelete() bool
	// IsTag reports whether the ref points at a tag.
	IsTag() bool
	// Commits lists the commits of a push payload, oldest first.
	Commits() []Commit
	// Payload is the flattened raw payload used for parameter substitution
	// and filter rules; may be empty for parameter-style events.
	Payload() map[string]interface{}
}

// ZeroSHA is the all-zero revision hosts send for branch deletions.
const ZeroSHA = "0000000000000000000000000000000000000000"

func isZeroSHA(sha string) bool {
	return sha != "" && strings.Trim(sha, "0") == ""
}

// branchOfRef derives the short branch name from a ref path. Bare names pass
// through unchanged.
func branchOfRef(ref string) string {
	ref = strings.TrimPrefix(ref, "refs/heads/")
	ref = strings.TrimPrefix(ref, "refs/tags/")
	return ref
}

// fullRefOf expands a bare branch name to a heads ref; complete refs pass
// through unchanged.
func fullRefOf(ref string) string {
	if strings.HasPrefix(ref, "refs/") {
		return ref
	}
	return "refs/heads/" + ref
}

func isTagRef(ref string) bool {
	return strings.HasPrefix(ref, "refs/tags/")
}
