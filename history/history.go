// Package history is the History Graph Builder (spec.md §4.F): it
// turns a package's version list and changelog predecessor chains into
// a deterministic emission order for the Fast-Import Emitter.
package history

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/emirpasic/gods/sets/linkedhashset"
	log "github.com/sirupsen/logrus"

	"github.com/gitdeb/gitdeb/changelog"
	"github.com/gitdeb/gitdeb/dscpkg"
	"github.com/gitdeb/gitdeb/progress"
	"github.com/gitdeb/gitdeb/snapshot"
	"github.com/gitdeb/gitdeb/unpack"
)

// ErrGraphLoop is the sentinel spec.md §7 names for a changelog
// predecessor chain that revisits a version already queued for
// emission.
var ErrGraphLoop = errors.New("history: changelog loop detected")

// Ghost is a changelog entry seen while walking toward a predecessor
// that belongs to neither the working set nor the skip set (spec.md
// §4.F step 3).
type Ghost struct {
	Version    string // the ghost entry itself
	SeenDuring string // the version whose changelog named it
}

// Entry is one version queued for emission, in final emission order.
type Entry struct {
	Version   string
	SP        *dscpkg.SourcePackage
	Unpacked  *unpack.Result
	Changelog *changelog.Changelog

	// PrevVer is the changelog-derived predecessor, or "" for a root.
	PrevVer string
	// HasParent is true when PrevVer both exists and lies within the
	// depth window, so the emitter can resolve it to a commit (either
	// already host-resolved, or emitted earlier in this same Plan).
	HasParent bool
	// FromCommit is pre-populated only when PrevVer was already
	// resolved in the host repo before this run began; it is empty
	// when the parent will be emitted earlier in this Plan, in which
	// case the emitter must resolve it via the mark it assigned then.
	FromCommit string
	// ChangelogBroken marks a version whose changelog could not be
	// parsed at all; its main commit uses a placeholder committer
	// identity instead of Changelog.Author (Changelog is nil).
	ChangelogBroken bool
}

// Plan is the builder's complete output for one package.
type Plan struct {
	Entries []Entry
	Ghosts  []Ghost
	Dropped []string // versions dropped: no source, or first changelog entry mismatched
}

// Resolver reports whether version already has a resolved commit in
// the host repository (spec.md §4.F step 1).
type Resolver func(version string) (commitID string, ok bool)

// Input gathers one Build call's parameters.
type Input struct {
	Package  string
	Versions []string // newest-first, as ListVersions returns them
	Skip     map[string]bool
	Depth    int // 0 or negative means unlimited
	Resolved Resolver
}

// Builder runs the two-pass algorithm of spec.md §4.F, fetching and
// unpacking each candidate version as it goes.
type Builder struct {
	Client  *snapshot.Client
	Cache   *unpack.Cache
	WorkDir string
	Baton   *progress.Baton

	// fetch is swapped out in tests to avoid touching the network or a
	// real keyring; fetchLive is the production implementation.
	fetch func(pkg, v string) (*candidate, bool, error)
}

// NewBuilder returns a Builder that stages working trees under workDir.
// Progress reporting is disabled by default; set Baton to report it.
func NewBuilder(client *snapshot.Client, workDir string) *Builder {
	b := &Builder{Client: client, Cache: unpack.NewCache(), WorkDir: workDir, Baton: progress.New(false)}
	b.fetch = b.fetchLive
	return b
}

type candidate struct {
	sp              *dscpkg.SourcePackage
	unpacked        *unpack.Result
	changelog       *changelog.Changelog
	changelogBroken bool // spec.md §7 "changelog-broken": kept, emitted outside the graph spine
}

// fetchLive fetches, unpacks, and validates v, implementing spec.md
// §4.F step 2-3's non-decision half. ok is false for a version that
// must be dropped entirely (no fatal error); err is non-nil only on a
// fatal, unexpected failure. A version whose changelog is unparseable
// is kept (ok true, changelogBroken true) rather than dropped - spec.md
// §7 policy is "warn, continue, version emitted outside the graph
// spine", distinct from the source-missing and top-entry-mismatch
// cases, which really do drop the version.
func (b *Builder) fetchLive(pkg, v string) (*candidate, bool, error) {
	b.Baton.Tick(pkg, v, "fetching")
	sp, err := b.Client.FetchSrcFiles(pkg, v)
	if err != nil {
		if _, ok := err.(*snapshot.MissingSource); ok {
			log.WithField("version", v).Warn("history: no source for version, dropping")
			return nil, false, nil
		}
		return nil, false, err
	}

	dscFI := sp.DscFiles[0]
	dscPath := filepath.Join(b.Client.Store.ArchiveDir(dscFI), dscFI.Name)
	b.Baton.Tick(pkg, v, "unpacking")
	unpacked, err := unpack.Unpack(dscPath, sp, b.WorkDir, b.Cache)
	if err != nil {
		return nil, false, fmt.Errorf("history: %s %s: %w", pkg, v, err)
	}

	raw, err := ioutil.ReadFile(filepath.Join(unpacked.XDir, "debian", "changelog"))
	if err != nil {
		return nil, false, fmt.Errorf("history: %s %s: reading changelog: %w", pkg, v, err)
	}
	cl, err := changelog.Parse(raw)
	if err != nil {
		log.WithError(err).WithField("version", v).Warn("history: changelog broken, emitting outside the graph spine")
		return &candidate{sp: sp, unpacked: unpacked, changelogBroken: true}, true, nil
	}
	if cl.Entries[0].Version != v {
		log.WithFields(log.Fields{"package": pkg, "version": v, "changelog_top": cl.Entries[0].Version}).
			Warn("history: changelog top entry does not match version, dropping")
		return nil, false, nil
	}
	return &candidate{sp: sp, unpacked: unpacked, changelog: cl}, true, nil
}

// Build implements spec.md §4.F end to end for one package.
func (b *Builder) Build(in Input) (*Plan, error) {
	considered := in.Versions
	windowed := map[string]bool{}
	if in.Depth > 0 && len(in.Versions) > in.Depth {
		considered = in.Versions[:in.Depth]
	}
	for _, v := range considered {
		windowed[v] = true
	}
	// known holds every version the archive reports, regardless of the
	// depth window, so that a changelog entry naming a real but
	// out-of-window version is treated as a cut point rather than a
	// ghost (spec.md §4.F step 4).
	known := map[string]bool{}
	for _, v := range in.Versions {
		known[v] = true
	}

	oldestFirst := make([]string, len(considered))
	for i, v := range considered {
		oldestFirst[len(considered)-1-i] = v
	}

	working := map[string]bool{}       // versions eligible as a predecessor match
	resolvedHost := map[string]string{} // version -> pre-existing commit id
	data := map[string]candidate{}     // version -> fetched/unpacked/parsed state
	prevVerOf := map[string]string{}
	successors := map[string]*linkedhashset.Set{}
	var enqueue []string
	var ghosts []Ghost
	var dropped []string

	successorsFor := func(v string) *linkedhashset.Set {
		s, ok := successors[v]
		if !ok {
			s = linkedhashset.New()
			successors[v] = s
		}
		return s
	}

	for _, v := range oldestFirst {
		if in.Skip[v] {
			// spec.md §6: "skip=v1,v2 - versions to omit from the
			// working set entirely" - never fetched, never
			// signature-checked, never emitted. The predecessor walk
			// below links successors past it unaided: it is neither a
			// cut point nor a ghost (see the switch below).
			log.WithField("version", v).Debug("history: skip requested, omitting from working set")
			continue
		}
		if cid, ok := in.Resolved(v); ok {
			resolvedHost[v] = cid
			working[v] = true
			continue
		}

		cand, ok, err := b.fetch(in.Package, v)
		if err != nil {
			return nil, err
		}
		if !ok {
			dropped = append(dropped, v)
			continue
		}

		working[v] = true
		data[v] = *cand

		var prevVer string
		if !cand.changelogBroken {
			for _, entry := range cand.changelog.Entries[1:] {
				ev := entry.Version
				switch {
				case known[ev] && (working[ev] || !windowed[ev]):
					// Either already a resolved predecessor in this run,
					// or a real version this run never attempted because
					// it lies outside the depth window - either way it is
					// a cut point, not a ghost.
					prevVer = ev
				case in.Skip[ev]:
					// spec.md §8: skip's successors "link past it in
					// changelog order" - neither a cut point nor a
					// ghost, so the scan keeps looking further back in
					// this same changelog for the next real predecessor.
				case !working[ev]:
					// Not in the working set and not skipped: either
					// genuinely absent from the archive, or known but
					// dropped this run (missing source, mismatched
					// changelog top entry, ...). Either way it is a
					// ghost (spec.md §4.F step 3).
					ghosts = append(ghosts, Ghost{Version: ev, SeenDuring: v})
				}
				if prevVer != "" {
					break
				}
			}
		}

		if prevVer != "" {
			prevVerOf[v] = prevVer
			successorsFor(prevVer).Add(v)
			if _, alreadyResolved := resolvedHost[prevVer]; alreadyResolved || !windowed[prevVer] {
				enqueue = append(enqueue, v)
			}
		} else {
			enqueue = append(enqueue, v)
		}
	}

	plan := &Plan{Ghosts: ghosts, Dropped: dropped}
	done := map[string]bool{}
	queue := enqueue
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if done[v] {
			return nil, fmt.Errorf("%w at version %s", ErrGraphLoop, v)
		}
		done[v] = true

		cand := data[v]
		prevVer := prevVerOf[v]
		entry := Entry{
			Version:         v,
			SP:              cand.sp,
			Unpacked:        cand.unpacked,
			Changelog:       cand.changelog,
			PrevVer:         prevVer,
			ChangelogBroken: cand.changelogBroken,
		}
		if prevVer != "" && windowed[prevVer] {
			entry.HasParent = true
			if cid, ok := resolvedHost[prevVer]; ok {
				entry.FromCommit = cid
			}
		}
		plan.Entries = append(plan.Entries, entry)

		if succ, ok := successors[v]; ok {
			for _, s := range succ.Values() {
				queue = append(queue, s.(string))
			}
		}
	}

	return plan, nil
}
