package merge

import (
	"time"

	"golang.org/x/text/unicode/norm"
)

// sameText compares two strings in NFC.
func sameText(a, b string) bool {
	if a == b {
		return true
	}
	return norm.NFC.String(a) == norm.NFC.String(b)
}

// mergeField applies the three-way rule when hasBase is set and the two-way
// rule otherwise. ok is false when both sides changed to different values; the
// returned value is then the local one.
func mergeField(local, remote, base string, hasBase bool) (value string, ok bool) {
	if sameText(local, remote) {
		return local, true
	}
	if hasBase {
		switch {
		case sameText(local, base):
			return remote, true
		case sameText(remote, base):
			return local, true
		}
		return local, false
	}
	switch {
	case local == "":
		return remote, true
	case remote == "":
		return local, true
	}
	return local, false
}

// union returns a followed by the elements of b it does not contain yet.
// Duplicates inside a are collapsed too.
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// earliest returns the earlier non-zero time.
func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	}
	return a
}

func fill(local, remote string) string {
	if local == "" {
		return remote
	}
	return local
}
