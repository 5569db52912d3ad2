package event

import (
	"net/url"
	"strings"

	"buildhook/internal"
)

// Params is a manually triggered event supplied as flat key-value pairs.
// Keys are recognized case-insensitively under a set of aliases, so both
// notify-commit style (?url=...) and explicit (?repo_url=...&branch=...)
// invocations work.
type Params struct {
	repoURL  string
	repoName string
	ref      string
	isDelete bool
	payload  map[string]interface{}
}

var _ Details = (*Params)(nil)

var (
	repoURLKeys  = []string{"repo_url", "url", "repository_url"}
	repoNameKeys = []string{"repo_name", "name", "repository_name"}
	refKeys      = []string{"ref", "branch", "branch_reference"}
	deleteKeys   = []string{"delete_branch_commit", "delete"}
)

// NewParams builds a Params event from HTTP query or form values.
func NewParams(values url.Values) (*Params, error) {
	flat := make(map[string]interface{}, len(values))
	lowered := make(map[string]string, len(values))
	for key, list := range values {
		if len(list) == 0 {
			continue
		}
		flat[key] = list[0]
		lowered[strings.ToLower(key)] = list[0]
	}

	repoURL := firstOf(lowered, repoURLKeys)
	if repoURL == "" {
		return nil, internal.BadRequestf("missing repository url parameter (one of %s)", strings.Join(repoURLKeys, ", "))
	}
	ref := firstOf(lowered, refKeys)

	return &Params{
		repoURL:  repoURL,
		repoName: firstOf(lowered, repoNameKeys),
		ref:      ref,
		isDelete: isTruthyParam(firstOf(lowered, deleteKeys)),
		payload:  flat,
	}, nil
}

func firstOf(values map[string]string, keys []string) string {
	for _, key := range keys {
		if v, ok := values[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

func isTruthyParam(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

func (p *Params) Kind() string           { return "parameters" }
func (p *Params) RepositoryURL() string  { return p.repoURL }
func (p *Params) RepositoryName() string { return p.repoName }
func (p *Params) Branch() string         { return branchOfRef(p.ref) }

func (p *Params) FullRef() string {
	if p.ref == "" {
		return ""
	}
	return fullRefOf(p.ref)
}

func (p *Params) IsDelete() bool                  { return p.isDelete }
func (p *Params) IsTag() bool                     { return isTagRef(p.ref) }
func (p *Params) Commits() []Commit               { return nil }
func (p *Params) Payload() map[string]interface{} { return p.payload }
