// Package changelog is the Changelog Reader (spec.md §4.E): it
// produces an ordered list of prior versions declared by a package's
// changelog and the newest entry's author+date. Spec.md §2 marks this
// an external collaborator - only its contract is load-bearing - but a
// working implementation is shipped, grounded on
// original_source/gitdeb/__init__.py's parse_changelog.
package changelog

import (
	"bufio"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/gitdeb/gitdeb/identity"
)

// ErrBroken is returned when a changelog has no parseable stanza at
// all (spec.md §7 kind "changelog-broken").
var ErrBroken = errors.New("changelog: no valid changelog stanza")

// Entry is one changelog stanza's version header.
type Entry struct {
	Version string
}

// Changelog is the ordered (newest-first) list of versions a package's
// debian/changelog declares, plus the newest entry's attribution.
type Changelog struct {
	Entries []Entry
	Author  identity.Attribution
}

var versionLineRE = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]*\s+\(([^ ]+)\)`)
var authorLineRE = regexp.MustCompile(`^ --\s*([^<>]*<[^<>]+>)  (.*)$`)

// Parse reads a debian/changelog. It first sniffs the bytes as UTF-8;
// when that fails (a common case for very old changelogs) it falls
// back to Latin-1, the encoding the original tool's shell-out to gpg
// and dpkg-source silently assumed (spec.md §7 "encoding not
// recoverable via byte-level sniffing" names the terminal failure
// mode, this is the recovery step before declaring it unrecoverable).
func Parse(raw []byte) (*Changelog, error) {
	text, err := sniffText(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBroken, err)
	}

	cl := &Changelog{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	within := false
	topEntry := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}
		if !within {
			if line == "Local variables:" || line == "Old Changelog:" {
				break
			}
			m := versionLineRE.FindStringSubmatch(line)
			if m == nil {
				break
			}
			cl.Entries = append(cl.Entries, Entry{Version: m[1]})
			within = true
			continue
		}
		m := authorLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if topEntry {
			when, err := mail.ParseDate(m[2])
			if err != nil {
				when = time.Time{}
			}
			fullname, email := splitAttribution(m[1])
			cl.Author = identity.Attribution{Fullname: fullname, Email: email, When: when}
			topEntry = false
		}
		within = false
	}
	if len(cl.Entries) == 0 {
		return nil, ErrBroken
	}
	return cl, nil
}

var nameEmailRE = regexp.MustCompile(`^(.*)<(.*)>$`)

func splitAttribution(s string) (name, email string) {
	m := nameEmailRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
}

// sniffText recovers a changelog's text under a byte-level encoding
// guess when it is not valid UTF-8. Latin-1 has no invalid byte
// sequences, so this is the last fallback before giving up.
func sniffText(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
