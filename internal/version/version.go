// Package version implements release version values and the checked-in
// version state file that drives the release pipeline.
//
// A version is a dot-separated sequence of non-negative integers with no
// upper bound on component count ("1.2.3", "0.9", "2.0.0.1"). The state
// file records exactly two versions: the last successfully released one
// and the one the next release will carry.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a dot-separated sequence of non-negative integer components.
//
// The zero value (nil) is not a valid version; use Parse or MustParse to
// construct one. Version values are immutable by convention: methods that
// derive a new version always return a copy.
type Version []int

// Parse converts a string like "1.2.3" into a Version.
//
// Every component must be a non-negative base-10 integer. Leading zeros
// are rejected ("1.02.3" is not a valid version) so that String(Parse(s))
// round-trips exactly.
func Parse(s string) (Version, error) {
	if s == "" {
		return nil, fmt.Errorf("empty version string")
	}
	parts := strings.Split(s, ".")
	v := make(Version, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid version %q: empty component", s)
		}
		if len(p) > 1 && p[0] == '0' {
			return nil, fmt.Errorf("invalid version %q: component %q has a leading zero", s, p)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version %q: component %q is not a non-negative integer", s, p)
		}
		v = append(v, n)
	}
	return v, nil
}

// MustParse is Parse for compile-time constants in tests and defaults.
// Panics on invalid input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version in canonical dot-separated form.
func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Compare orders versions component-wise numerically.
//
// Returns -1 if v < o, 0 if equal, +1 if v > o. When one version is a
// proper prefix of the other, the shorter one orders first ("1.2" < "1.2.0").
func (v Version) Compare(o Version) int {
	for i := 0; i < len(v) && i < len(o); i++ {
		switch {
		case v[i] < o[i]:
			return -1
		case v[i] > o[i]:
			return 1
		}
	}
	switch {
	case len(v) < len(o):
		return -1
	case len(v) > len(o):
		return 1
	}
	return 0
}

// Increment returns a copy of v with the last component incremented by one.
//
// All other components are untouched: "1.2.4" becomes "1.2.5", "2.9" becomes
// "2.10". The receiver is never modified.
func (v Version) Increment() Version {
	if len(v) == 0 {
		panic("version: Increment on empty version")
	}
	next := make(Version, len(v))
	copy(next, v)
	next[len(next)-1]++
	return next
}

// Equal reports whether two versions have identical components.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}
