// Package debversion implements Debian package version parsing,
// comparison and the tag-name quoting used for upload tags.
package debversion

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed Debian version string: epoch, upstream version
// and an optional debian revision. History order comes from
// changelogs, not from this comparison - see spec.md §3 "Version".
type Version struct {
	Raw        string
	Epoch      int
	Upstream   string
	Revision   string
	hasEpoch   bool
	hasRevison bool
}

// Parse splits a raw Debian version string into its components.
func Parse(raw string) (Version, error) {
	v := Version{Raw: raw}
	rest := raw
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return v, fmt.Errorf("debversion: bad epoch in %q: %w", raw, err)
		}
		v.Epoch = n
		v.hasEpoch = true
		rest = rest[i+1:]
	}
	if i := strings.LastIndexByte(rest, '-'); i >= 0 {
		v.Upstream = rest[:i]
		v.Revision = rest[i+1:]
		v.hasRevison = true
	} else {
		v.Upstream = rest
	}
	if v.Upstream == "" {
		return v, fmt.Errorf("debversion: empty upstream version in %q", raw)
	}
	return v, nil
}

// HasRevision reports whether the version string carried a "-revision" suffix.
func (v Version) HasRevision() bool {
	return v.hasRevison
}

// WithoutEpoch returns "upstream[-revision]", used by dscpkg's component
// filename matching (spec.md §4.C "Version arithmetic").
func (v Version) WithoutEpoch() string {
	if v.hasRevison {
		return v.Upstream + "-" + v.Revision
	}
	return v.Upstream
}

// String renders the version in canonical "[epoch:]upstream[-revision]" form.
func (v Version) String() string {
	var b strings.Builder
	if v.hasEpoch {
		fmt.Fprintf(&b, "%d:", v.Epoch)
	}
	b.WriteString(v.Upstream)
	if v.hasRevison {
		b.WriteByte('-')
		b.WriteString(v.Revision)
	}
	return b.String()
}

// order ranks a single byte the way dpkg's version comparator does:
// '~' sorts before everything, including the end of string; digits
// sort before letters; letters sort before everything else, in ASCII
// order among themselves.
func order(c byte) int {
	switch {
	case c == '~':
		return -1
	case isDigit(c):
		return 0
	case isAlpha(c):
		return int(c)
	default:
		return int(c) + 256
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// compareFragment implements dpkg's "compare version strings" loop over
// one of upstream-version or debian-revision.
func compareFragment(a, b string) int {
	for len(a) > 0 || len(b) > 0 {
		// Compare the leading non-digit runs character by character.
		for (len(a) > 0 && !isDigit(a[0])) || (len(b) > 0 && !isDigit(b[0])) {
			var ca, cb int
			if len(a) > 0 {
				ca = order(a[0])
			}
			if len(b) > 0 {
				cb = order(b[0])
			}
			if ca != cb {
				if ca < cb {
					return -1
				}
				return 1
			}
			if len(a) > 0 {
				a = a[1:]
			}
			if len(b) > 0 {
				b = b[1:]
			}
		}
		// Compare the leading digit runs numerically.
		na, ra := leadingDigits(a)
		nb, rb := leadingDigits(b)
		a, b = ra, rb
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func leadingDigits(s string) (int, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	n, _ := strconv.Atoi(strings.TrimLeft(s[:i], "0"))
	return n, s[i:]
}

// Compare orders two versions per the standard Debian algorithm:
// epoch first, then upstream version, then debian revision. This
// ordering is display-only (spec.md §3): history order is taken from
// changelogs, never from this function.
func Compare(a, b Version) int {
	if a.Epoch != b.Epoch {
		if a.Epoch < b.Epoch {
			return -1
		}
		return 1
	}
	if c := compareFragment(a.Upstream, b.Upstream); c != 0 {
		return c
	}
	return compareFragment(a.Revision, b.Revision)
}

// quoteReplacer and unquoteReplacer implement the tag-name quoting rule
// from spec.md §3: ":" -> "%", "~" -> "_".
var quoteReplacer = strings.NewReplacer(":", "%", "~", "_")
var unquoteReplacer = strings.NewReplacer("%", ":", "_", "~")

// QuoteTag renders a version string safe for use as a git tag name.
func QuoteTag(raw string) string {
	return quoteReplacer.Replace(raw)
}

// UnquoteTag reverses QuoteTag. It round-trips for every Debian-legal
// version string because '%' and '_' never appear in one, so every
// '%' or '_' in a quoted tag came from QuoteTag (spec.md §8 property 6).
func UnquoteTag(quoted string) string {
	return unquoteReplacer.Replace(quoted)
}
