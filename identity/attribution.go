// Package identity pins a repository event - a commit, an upload tag -
// to a person and a time, and repairs signer identities that lack an
// email address via the CLI's email= fallback table.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrIdentityMalformed is the sentinel spec.md §7 names for a signer
// user-id that is neither "Name <email>" nor a bare email address and
// carries no email= fallback for its key id.
var ErrIdentityMalformed = errors.New("identity: malformed user-id")

// Attribution is a name, email and timestamp triple suitable for a git
// fast-import "committer"/"tagger" line. Grounded on the teacher's
// Attribution type (surgeon/reposurgeon.go).
type Attribution struct {
	Fullname string
	Email    string
	When     time.Time
}

// String renders the attribution in fast-import format: "name <email> epoch zone".
func (a Attribution) String() string {
	return fmt.Sprintf("%s <%s> %d %s", a.Fullname, a.Email, a.When.Unix(), a.When.Format("-0700"))
}

var attributionRE = regexp.MustCompile(`^([^<]*)\s*<([^>]*)>\s*$`)
var bareEmailRE = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

// ParseUserID parses a GPG signer uid into a name/email pair. Per
// spec.md §7 kind "identity-malformed", a uid must be either
// "Name <email>" or a bare email address; anything else is malformed
// unless repaired by a Fallbacks entry keyed on the signing key id.
func ParseUserID(uid string) (fullname, email string, err error) {
	uid = strings.TrimSpace(uid)
	if m := attributionRE.FindStringSubmatch(uid); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), nil
	}
	if bareEmailRE.MatchString(uid) {
		return uid, uid, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrIdentityMalformed, uid)
}

// Fallbacks holds the email= query-parameter overrides (spec.md §6):
// "for each key-id, supply a fallback email for an identity that lacks
// one in its user-id string."
type Fallbacks map[string]string

// NewFallbacks builds a Fallbacks table from a sequence of "kid addr" pairs,
// the form the email= query value takes once split on its internal space.
func NewFallbacks(pairs [][2]string) Fallbacks {
	f := make(Fallbacks, len(pairs))
	for _, p := range pairs {
		f[strings.ToUpper(p[0])] = p[1]
	}
	return f
}

// Resolve parses uid, falling back to fb[kid] when uid has no usable
// email. It returns the identity-malformed error unrepaired if no
// fallback is registered for kid.
func (fb Fallbacks) Resolve(kid, uid string) (fullname, email string, err error) {
	fullname, email, err = ParseUserID(uid)
	if err == nil && email != "" {
		return fullname, email, nil
	}
	if addr, ok := fb[strings.ToUpper(kid)]; ok {
		if fullname == "" {
			fullname = uid
		}
		return fullname, addr, nil
	}
	return fullname, email, err
}
