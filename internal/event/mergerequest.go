package event

import "buildhook/internal"

// Merge-request states and merge statuses as the source-control host
// reports them.
const (
	StateOpened   = "opened"
	StateReopened = "reopened"
	StateClosed   = "closed"
	StateMerged   = "merged"

	MergeStatusCanBeMerged    = "can_be_merged"
	MergeStatusCannotBeMerged = "cannot_be_merged"
	MergeStatusUnchecked      = "unchecked"
)

// MergeRequest is a merge-request lifecycle event.
type MergeRequest struct {
	projectID    int64
	repoURL      string
	repoName     string
	sourceBranch string
	targetBranch string
	state        string
	mergeStatus  string
	payload      map[string]interface{}
}

var _ Details = (*MergeRequest)(nil)

// NewMergeRequest builds a MergeRequest event. Cross-repository merge
// requests (differing source and target project ids) are invalid input.
// repoURL may be empty when the payload omitted it; callers resolve it by
// project id before matching.
func NewMergeRequest(sourceProjectID, targetProjectID int64, repoURL, repoName, sourceBranch, targetBranch, state, mergeStatus string, payload map[string]interface{}) (*MergeRequest, error) {
	if sourceProjectID != targetProjectID {
		return nil, internal.BadRequestf("cross-repository merge request (source project %d, target project %d)", sourceProjectID, targetProjectID)
	}
	if sourceBranch == "" || targetBranch == "" {
		return nil, internal.BadRequestf("merge request is missing source or target branch")
	}
	if state == "" {
		return nil, internal.BadRequestf("merge request is missing state")
	}
	return &MergeRequest{
		projectID:    sourceProjectID,
		repoURL:      repoURL,
		repoName:     repoName,
		sourceBranch: sourceBranch,
		targetBranch: targetBranch,
		state:        state,
		mergeStatus:  mergeStatus,
		payload:      payload,
	}, nil
}

func (m *MergeRequest) Kind() string           { return "merge_request" }
func (m *MergeRequest) RepositoryURL() string  { return m.repoURL }
func (m *MergeRequest) RepositoryName() string { return m.repoName }

// Branch of a merge-request event is its source branch: that is the ref the
// build jobs track.
func (m *MergeRequest) Branch() string { return m.sourceBranch }

func (m *MergeRequest) FullRef() string                 { return "refs/heads/" + m.sourceBranch }
func (m *MergeRequest) IsDelete() bool                  { return false }
func (m *MergeRequest) IsTag() bool                     { return false }
func (m *MergeRequest) Commits() []Commit               { return nil }
func (m *MergeRequest) Payload() map[string]interface{} { return m.payload }

func (m *MergeRequest) ProjectID() int64     { return m.projectID }
func (m *MergeRequest) SourceBranch() string { return m.sourceBranch }
func (m *MergeRequest) TargetBranch() string { return m.targetBranch }
func (m *MergeRequest) State() string        { return m.state }
func (m *MergeRequest) MergeStatus() string  { return m.mergeStatus }

// WithRepositoryURL returns a copy carrying the resolved clone URL. The
// original value stays immutable.
func (m *MergeRequest) WithRepositoryURL(repoURL, repoName string) *MergeRequest {
	clone := *m
	clone.repoURL = repoURL
	if repoName != "" {
		clone.repoName = repoName
	}
	return &clone
}
