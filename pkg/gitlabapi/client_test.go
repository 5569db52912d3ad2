package gitlabapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"buildhook/internal"
)

// TestProjectLookup tests the clone URL resolution by project id.
func TestProjectLookup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != "secret" {
			t.Errorf("missing token header")
		}
		_, _ = w.Write([]byte(`{"id":42,"name":"diaspora","ssh_url_to_repo":"git@example.com:diaspora.git","http_url_to_repo":"http://example.com/diaspora.git"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(internal.GitLabConfig{BaseURL: server.URL + "/api/v4", Token: "secret"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	project, err := client.Project(context.Background(), 42)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if project.Name != "diaspora" || project.SSHURL != "git@example.com:diaspora.git" {
		t.Fatalf("unexpected project %+v", project)
	}
}

// TestSetCommitStatus tests the status post.
func TestSetCommitStatus(t *testing.T) {
	var posted bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/statuses/da1560886d", func(w http.ResponseWriter, r *http.Request) {
		posted = true
		_, _ = w.Write([]byte(`{"status":"running"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(internal.GitLabConfig{BaseURL: server.URL + "/api/v4", Token: "secret"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.SetCommitStatus(context.Background(), 42, "da1560886d", "running", "buildhook", ""); err != nil {
		t.Fatalf("SetCommitStatus: %v", err)
	}
	if !posted {
		t.Fatalf("expected a status post")
	}
}
