package event

import "buildhook/internal"

// Push is a push or tag-push event decoded from a JSON webhook body.
type Push struct {
	kind     string
	repoURL  string
	repoName string
	ref      string
	before   string
	after    string
	commits  []Commit
	payload  map[string]interface{}
}

var _ Details = (*Push)(nil)

// NewPush builds a Push from the fields of a decoded push payload. The ref
// must be a full ref path; an all-zero after SHA marks a branch deletion.
func NewPush(repoURL, repoName, ref, before, after string, commits []Commit, payload map[string]interface{}) (*Push, error) {
	if repoURL == "" {
		return nil, internal.BadRequestf("push event carries no repository URL")
	}
	if ref == "" {
		return nil, internal.BadRequestf("push event carries no ref")
	}
	kind := "push"
	if isTagRef(ref) {
		kind = "tag_push"
	}
	return &Push{
		kind:     kind,
		repoURL:  repoURL,
		repoName: repoName,
		ref:      ref,
		before:   before,
		after:    after,
		commits:  commits,
		payload:  payload,
	}, nil
}

func (p *Push) Kind() string                    { return p.kind }
func (p *Push) RepositoryURL() string           { return p.repoURL }
func (p *Push) RepositoryName() string          { return p.repoName }
func (p *Push) Branch() string                  { return branchOfRef(p.ref) }
func (p *Push) FullRef() string                 { return p.ref }
func (p *Push) IsDelete() bool                  { return isZeroSHA(p.after) }
func (p *Push) IsTag() bool                     { return isTagRef(p.ref) }
func (p *Push) Commits() []Commit               { return p.commits }
func (p *Push) Payload() map[string]interface{} { return p.payload }
