package scm

import "testing"

// TestParseIdentityForms tests that the supported clone URL forms normalize
// to the same identity.
func TestParseIdentityForms(t *testing.T) {
	want := Identity{Host: "example.com", Path: "diaspora/diaspora"}
	urls := []string{
		"git@example.com:diaspora/diaspora.git",
		"ssh://git@example.com/diaspora/diaspora.git",
		"http://example.com/diaspora/diaspora",
		"https://Example.COM/Diaspora/Diaspora.git/",
	}
	for _, raw := range urls {
		got := ParseIdentity(raw)
		if got != want {
			t.Fatalf("ParseIdentity(%q) = %+v, want %+v", raw, got, want)
		}
	}
}

// TestParseIdentityIdempotent tests that normalization applied to an already
// normalized value changes nothing.
func TestParseIdentityIdempotent(t *testing.T) {
	first := ParseIdentity("HTTP://Host/Path.git/")
	again := normalize(first.Host, first.Path)
	if first != again {
		t.Fatalf("normalization not idempotent: %+v vs %+v", first, again)
	}
}

// TestParseIdentityBarePath tests that a filesystem path yields a host-less
// identity.
func TestParseIdentityBarePath(t *testing.T) {
	got := ParseIdentity("/var/repos/project.git")
	if got.Host != "" || got.Path != "var/repos/project" {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

// TestIdentityZeroNeverMatches tests that unparsable URLs never compare
// equal, not even to each other.
func TestIdentityZeroNeverMatches(t *testing.T) {
	zero := ParseIdentity("")
	if !zero.IsZero() {
		t.Fatalf("expected zero identity")
	}
	if zero.Matches(zero) {
		t.Fatalf("two zero identities must not match")
	}
	if zero.Matches(ParseIdentity("git@example.com:repo.git")) {
		t.Fatalf("zero identity must not match a real one")
	}
}

// TestSameRepository tests equivalence across protocols and case.
func TestSameRepository(t *testing.T) {
	if !SameRepository("git@example.com:diaspora.git", "https://example.com/diaspora") {
		t.Fatalf("expected ssh and https forms to match")
	}
	if SameRepository("git@example.com:diaspora.git", "git@example.com:other.git") {
		t.Fatalf("different paths must not match")
	}
	if SameRepository("git@example.com:diaspora.git", "git@other.com:diaspora.git") {
		t.Fatalf("different hosts must not match")
	}
}
