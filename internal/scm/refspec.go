package scm

import "strings"

// RefspecSourceMatches reports whether the source side of a fetch refspec
// covers the given full ref. A refspec looks like
// "+refs/heads/*:refs/remotes/origin/*"; only the part before the colon is
// consulted. The single "*" matches any non-empty remainder, slashes
// included, as git fetch does.
func RefspecSourceMatches(refspec, fullRef string) bool {
	if fullRef == "" {
		return false
	}
	source := strings.TrimPrefix(refspec, "+")
	if colon := strings.Index(source, ":"); colon >= 0 {
		source = source[:colon]
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return false
	}

	star := strings.Index(source, "*")
	if star < 0 {
		return source == fullRef
	}
	prefix := source[:star]
	suffix := source[star+1:]
	if len(fullRef) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(fullRef, prefix) && strings.HasSuffix(fullRef, suffix) &&
		len(fullRef) > len(prefix)+len(suffix)
}

// DefaultRefspec is the fetch refspec git assumes when a remote does not
// configure one explicitly.
func DefaultRefspec(remote string) string {
	if remote == "" {
		remote = "origin"
	}
	return "+refs/heads/*:refs/remotes/" + remote + "/*"
}
