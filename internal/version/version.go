// Package version parses and orders release identifiers of the shape
// "M.m[.p][(a|b)N]" (human form) or "M.m.p.c.n" (canonical form).
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Channel is the pre-release channel of a Version. Zero value is Alpha.
type Channel int

const (
	Alpha Channel = iota
	Beta
	Stable
)

// String renders the channel's single-letter filename tag, or "" for Stable.
func (c Channel) String() string {
	switch c {
	case Alpha:
		return "a"
	case Beta:
		return "b"
	default:
		return ""
	}
}

// ErrParseVersion is returned when a version string has an unsupported shape.
var ErrParseVersion = fmt.Errorf("parse-version")

// Version is the tuple (major, minor, patch, channel, channel_n). Ordering
// is lexicographic on the tuple: stable(M.m.p) > beta(M.m.p) > alpha(M.m.p)
// at an equal numeric prefix.
type Version struct {
	Major, Minor, Patch int
	Channel             Channel
	ChannelN            int
}

var (
	humanRe     = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+))?(?:([ab])(\d+))?$`)
	canonicalRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)\.(\d+)\.(\d+)$`)
)

// Parse accepts either the 1-or-2-dot human form (with an optional trailing
// "a"/"b" pre-release suffix) or the 4-dot canonical form. Any other dot
// count, or a string that otherwise fails to match, is a hard error. The
// ".zip" and ".tar.gz" archive extensions are stripped before parsing.
func Parse(s string) (Version, error) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(s, ".zip"), ".tar.gz")

	switch strings.Count(trimmed, ".") {
	case 1, 2:
		return parseHuman(trimmed)
	case 4:
		return parseCanonical(trimmed)
	default:
		return Version{}, fmt.Errorf("%w: %q", ErrParseVersion, s)
	}
}

func parseHuman(s string) (Version, error) {
	m := humanRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrParseVersion, s)
	}
	v := Version{Channel: Stable}
	v.Major = atoi(m[1])
	v.Minor = atoi(m[2])
	if m[3] != "" {
		v.Patch = atoi(m[3])
	}
	if m[4] != "" {
		if m[4] == "a" {
			v.Channel = Alpha
		} else {
			v.Channel = Beta
		}
		v.ChannelN = atoi(m[5])
	}
	return v, nil
}

func parseCanonical(s string) (Version, error) {
	m := canonicalRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrParseVersion, s)
	}
	c := atoi(m[4])
	if c < int(Alpha) || c > int(Stable) {
		return Version{}, fmt.Errorf("%w: %q: unknown channel %d", ErrParseVersion, s, c)
	}
	return Version{
		Major:    atoi(m[1]),
		Minor:    atoi(m[2]),
		Patch:    atoi(m[3]),
		Channel:  Channel(c),
		ChannelN: atoi(m[5]),
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// String renders the human form, e.g. "1.2.1b3" or "1.2.0".
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Channel != Stable {
		s += fmt.Sprintf("%s%d", v.Channel, v.ChannelN)
	}
	return s
}

// Canonical renders the fully-qualified "M.m.p.c.n" form. It always
// round-trips through Parse.
func (v Version) Canonical() string {
	return fmt.Sprintf("%d.%d.%d.%d.%d", v.Major, v.Minor, v.Patch, int(v.Channel), v.ChannelN)
}

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater than o,
// comparing the tuple (Major, Minor, Patch, Channel, ChannelN) in order.
func (v Version) Compare(o Version) int {
	for _, pair := range [][2]int{
		{v.Major, o.Major},
		{v.Minor, o.Minor},
		{v.Patch, o.Patch},
		{int(v.Channel), int(o.Channel)},
		{v.ChannelN, o.ChannelN},
	} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (v Version) Less(o Version) bool           { return v.Compare(o) < 0 }
func (v Version) Greater(o Version) bool        { return v.Compare(o) > 0 }
func (v Version) Equal(o Version) bool          { return v.Compare(o) == 0 }
func (v Version) LessOrEqual(o Version) bool    { return v.Compare(o) <= 0 }
func (v Version) GreaterOrEqual(o Version) bool { return v.Compare(o) >= 0 }

// Zero is the 0.0.0 stable version, used as the fallback for artifacts whose
// version segment failed to parse.
var Zero = Version{Channel: Stable}
