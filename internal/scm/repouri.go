// Package scm holds the value types used to compare repository URLs,
// configured branch specifications and fetch refspecs against incoming
// webhook events.
package scm

import (
	"net/url"
	"strings"
)

// Identity is the comparable form of a clone URL: a host and a path with
// protocol, case, trailing slashes and the ".git" suffix stripped away.
// The zero Identity means the URL could not be parsed.
type Identity struct {
	Host string
	Path string
}

// ParseIdentity derives an Identity from a clone-URL-like string. It accepts
// scheme URLs (ssh://git@host/group/repo.git), scp-style remotes
// (git@host:group/repo.git) and bare filesystem paths. Unparsable input
// yields the zero Identity, never an error.
func ParseIdentity(raw string) Identity {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}
	}

	if idx := strings.Index(raw, "://"); idx >= 0 {
		parsed, err := url.Parse(raw)
		if err != nil {
			return Identity{}
		}
		return normalize(parsed.Hostname(), parsed.Path)
	}

	// scp-style: [user@]host:path
	if at := strings.Index(raw, "@"); at >= 0 {
		rest := raw[at+1:]
		colon := strings.Index(rest, ":")
		if colon < 0 {
			return Identity{}
		}
		return normalize(rest[:colon], rest[colon+1:])
	}
	if colon := strings.Index(raw, ":"); colon > 0 && !strings.Contains(raw[:colon], "/") {
		return normalize(raw[:colon], raw[colon+1:])
	}

	// bare filesystem path
	return normalize("", raw)
}

func normalize(host, path string) Identity {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	path = strings.TrimSuffix(path, ".git")
	if host == "" && path == "" {
		return Identity{}
	}
	return Identity{
		Host: strings.ToLower(host),
		Path: strings.ToLower(path),
	}
}

// IsZero reports whether the identity carries no information.
func (id Identity) IsZero() bool {
	return id.Host == "" && id.Path == ""
}

// Matches reports whether two identities denote the same repository.
// A zero identity matches nothing, including another zero identity:
// two unparsable URLs are never considered equal.
func (id Identity) Matches(other Identity) bool {
	if id.IsZero() || other.IsZero() {
		return false
	}
	return id.Host == other.Host && id.Path == other.Path
}

// SameRepository is a convenience for comparing two raw URL strings.
func SameRepository(a, b string) bool {
	return ParseIdentity(a).Matches(ParseIdentity(b))
}
