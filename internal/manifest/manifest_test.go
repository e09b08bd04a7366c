package manifest

import "testing"

func TestStarPathMissingSegmentIsNotFound(t *testing.T) {
	m := New()
	m.SetEntry("app", "1.0.0", "mac", Entry{Filename: "app-mac-1.0.0.tar.gz", FileHash: "abc"})

	if got, ok := m.Get("updates*app*1.0.0*mac*file_hash"); !ok || got != "abc" {
		t.Fatalf("got %q, %v", got, ok)
	}
	if _, ok := m.Get("updates*app*1.0.0*win*file_hash"); ok {
		t.Fatalf("expected missing platform to be not-found")
	}
	if _, ok := m.Get("updates*missing*1.0.0*mac*file_hash"); ok {
		t.Fatalf("expected missing name to be not-found")
	}
	if _, ok := m.Get("bogus*whatever"); ok {
		t.Fatalf("expected unknown root to be not-found")
	}
}

func TestLatestPath(t *testing.T) {
	m := New()
	m.SetLatest("app", "mac", "1.0.1")
	if got, ok := m.Get("latest*app*mac"); !ok || got != "1.0.1" {
		t.Fatalf("got %q, %v", got, ok)
	}
}

func TestCanonicalIsStableUnderInsertionOrder(t *testing.T) {
	a := New()
	a.SetEntry("app", "1.0.0", "mac", Entry{Filename: "a", FileHash: "h1"})
	a.SetEntry("app", "1.0.1", "win", Entry{Filename: "b", FileHash: "h2"})
	a.SetLatest("app", "mac", "1.0.0")
	a.SetLatest("app", "win", "1.0.1")

	b := New()
	b.SetEntry("app", "1.0.1", "win", Entry{Filename: "b", FileHash: "h2"})
	b.SetLatest("app", "win", "1.0.1")
	b.SetEntry("app", "1.0.0", "mac", Entry{Filename: "a", FileHash: "h1"})
	b.SetLatest("app", "mac", "1.0.0")

	ca, err := a.Canonical()
	if err != nil {
		t.Fatalf("Canonical a: %v", err)
	}
	cb, err := b.Canonical()
	if err != nil {
		t.Fatalf("Canonical b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical form depends on insertion order:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalExcludesSigs(t *testing.T) {
	m := New()
	m.Sigs = []string{"sig1", "sig2"}
	c, err := m.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	for _, want := range []string{"sig1", "sig2"} {
		if contains(string(c), want) {
			t.Fatalf("canonical form leaked sigs: %s", c)
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
