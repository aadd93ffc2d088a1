// Package progress is the baton-style status reporter named in
// SPEC_FULL.md §5 ("a baton/progress writer draining a channel to
// stderr"). Adapted from the teacher's Baton (surgeon/baton.go):
// kept is the single-goroutine channel drain that lets the builder and
// emitter print status without synchronizing on a mutex; dropped is
// the interactive terminfo twirly meter, since git-remote-deb's stderr
// is read by git itself, not a human watching a terminal.
package progress

import (
	"fmt"
	"os"
)

// Baton serializes status lines from whichever goroutine is doing work
// onto stderr, the way the teacher's Baton keeps stdout writes off the
// calling goroutine.
type Baton struct {
	enabled bool
	ch      chan string
	done    chan struct{}
}

// New starts the drain goroutine. A disabled Baton discards every Tick
// without starting a goroutine, mirroring the teacher's nil-receiver
// no-ops on every Baton method.
func New(enabled bool) *Baton {
	b := &Baton{enabled: enabled}
	if !enabled {
		return b
	}
	b.ch = make(chan string)
	b.done = make(chan struct{})
	go func() {
		for msg := range b.ch {
			fmt.Fprintln(os.Stderr, msg)
		}
		close(b.done)
	}()
	return b
}

// Tick reports one unit of progress: a package/version pair and a
// short status (spec.md §4.F/§4.D's per-version fetch/unpack/parse
// steps). A nil or disabled Baton is a safe no-op, same contract as the
// teacher's baton methods guarding on `baton != nil`.
func (b *Baton) Tick(pkg, version, status string) {
	if b == nil || !b.enabled {
		return
	}
	b.ch <- fmt.Sprintf("%s %s: %s", pkg, version, status)
}

// Close drains any in-flight message and stops the goroutine.
func (b *Baton) Close() {
	if b == nil || !b.enabled {
		return
	}
	close(b.ch)
	<-b.done
}
