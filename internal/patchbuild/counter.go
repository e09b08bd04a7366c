package patchbuild

import (
	"strconv"
	"strings"
	"sync"

	"github.com/etnz/selfupdate/internal/manifest"
)

// Counter assigns monotonically increasing, never-repeating patch numbers
// per package name. The first number minted for a name is 101, or
// bootstrap+1 if a bootstrap number was configured.
type Counter struct {
	mu        sync.Mutex
	bootstrap int
	next      map[string]int
}

// NewCounter returns a Counter. bootstrap <= 0 means "unconfigured", so the
// first number minted per name is the default 101.
func NewCounter(bootstrap int) *Counter {
	return &Counter{bootstrap: bootstrap, next: make(map[string]int)}
}

// SeedFromManifest advances the counter past every patch number already
// recorded in m, so numbers minted by a later run never repeat ones from an
// earlier run. Patch names that do not end in "-<N>" are ignored.
func (c *Counter) SeedFromManifest(m *manifest.Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, byVersion := range m.Updates {
		for _, byPlatform := range byVersion {
			for _, e := range byPlatform {
				if e.PatchName == "" {
					continue
				}
				i := strings.LastIndex(e.PatchName, "-")
				if i < 0 {
					continue
				}
				n, err := strconv.Atoi(e.PatchName[i+1:])
				if err != nil {
					continue
				}
				if n > c.next[name] {
					c.next[name] = n
				}
			}
		}
	}
}

// Next returns the next patch number for name, advancing its internal
// counter so the number is never reused.
func (c *Counter) Next(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, seen := c.next[name]
	if !seen {
		if c.bootstrap > 0 {
			n = c.bootstrap + 1
		} else {
			n = 101
		}
	} else {
		n++
	}
	c.next[name] = n
	return n
}
