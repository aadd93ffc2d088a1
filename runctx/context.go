// Package runctx carries the per-process state that the teacher's
// Control type (surgeon/reposurgeon.go) keeps as package-scope
// globals; here it is built once by git-remote-deb's main from the
// remote helper's URL and threaded explicitly into history and
// fastimport.
package runctx

import (
	"github.com/gitdeb/gitdeb/identity"
	"github.com/gitdeb/gitdeb/sigcheck"
	"github.com/gitdeb/gitdeb/snapshot"
)

// canonicalKeyring is the distribution keyring that keyringfetch
// installs by default; a good signature from it needs no disambiguating
// suffix on an upload tag (spec.md §4.G).
const canonicalKeyring = "debian-keyring"

// RunContext is everything the protocol shim resolves from the CLI
// invocation (spec.md §6) before handing off to the graph builder and
// emitter.
type RunContext struct {
	Remote  string
	Package string

	Client    *snapshot.Client
	Keyrings  []sigcheck.Keyring
	Fallbacks identity.Fallbacks
	Skip      map[string]bool

	Depth int
}

// New resolves a RunContext from the remote alias, package name and
// loaded keyrings; skip and fallbacks come from the helper's deb:// URL
// query (spec.md §6 skip=, email=).
func New(remote, pkg string, client *snapshot.Client, keyrings []sigcheck.Keyring, fallbacks identity.Fallbacks, skip map[string]bool) *RunContext {
	if skip == nil {
		skip = map[string]bool{}
	}
	return &RunContext{
		Remote:    remote,
		Package:   pkg,
		Client:    client,
		Keyrings:  keyrings,
		Fallbacks: fallbacks,
		Skip:      skip,
	}
}

// Canonical reports the keyring names a good signature needs no
// disambiguating suffix for (sigcheck.SigInfo.Canonical's argument).
func (rc *RunContext) Canonical() map[string]bool {
	out := make(map[string]bool, len(rc.Keyrings))
	for _, kr := range rc.Keyrings {
		if kr.Name == canonicalKeyring {
			out[kr.Name] = true
		}
	}
	return out
}
