// Package fastimport is the Fast-Import Emitter (spec.md §4.G): it
// turns a history.Plan into a single git fast-import stream on an
// io.Writer, generalizing the teacher's Commit/Tag/Reset Save methods
// (surgeon/reposurgeon.go) to this spec's mark/merge/deleteall
// semantics and upload-tag emission.
package fastimport

import (
	"bufio"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gitdeb/gitdeb/debversion"
	"github.com/gitdeb/gitdeb/history"
	"github.com/gitdeb/gitdeb/identity"
)

// treeWriter is the seam TreeWriter implements; tests substitute a fake
// to avoid shelling out to git.
type treeWriter interface {
	WriteTree(dir string) (string, error)
}

// Emitter writes one package's import stream. It owns the mark
// counter and the per-run dedup state (spec.md §4.G "refs it owns").
type Emitter struct {
	w    *bufio.Writer
	tree treeWriter

	nextMark int
	// origMarks remembers, per orig_key, the mark of the upstream
	// commit that owns the merge - spec.md §4.G "the first owner gets
	// a fresh mark, siblings carry a null mark".
	origMarks map[string]string
	resolved  map[string]string // version -> mark or host commit id

	// fallbacks repairs a signer user-id that carries no email, per
	// spec.md §6 email=<kid> <addr>; left unrepaired it is the
	// "identity-malformed" fatal error kind of spec.md §7.
	fallbacks identity.Fallbacks
}

// NewEmitter wraps w, buffering writes the way the teacher's Save
// methods write directly to an io.Writer without building strings.
func NewEmitter(w io.Writer, tree treeWriter, fallbacks identity.Fallbacks) *Emitter {
	return &Emitter{
		w:         bufio.NewWriter(w),
		tree:      tree,
		nextMark:  1,
		origMarks: make(map[string]string),
		resolved:  make(map[string]string),
		fallbacks: fallbacks,
	}
}

func (e *Emitter) newMark() string {
	m := fmt.Sprintf(":%d", e.nextMark)
	e.nextMark++
	return m
}

// tarImporter is the fixed committer identity for upstream commits
// (spec.md §4.G "committer <tar-importer>").
var tarImporter = identity.Attribution{Fullname: "", Email: "tar-importer", When: time.Unix(0, 0).UTC()}

// malformedChangelogAttribution is the placeholder committer used when
// a version's changelog could not be parsed at all (spec.md §4.G).
var malformedChangelogAttribution = identity.Attribution{Fullname: "", Email: "malformed-changelog", When: time.Unix(0, 0).UTC()}

// canonicalKeyringNames names the keyrings whose good signatures need
// no disambiguating suffix on an upload tag (spec.md §4.G).
type canonicalKeyringNames map[string]bool

// EmitPlan writes remote/pkg's complete import stream: upstream
// commits (deduped by orig_key), then main commits, upload tags, and
// the version tag ref for every entry in plan, finishing with the
// final branch reset.
func (e *Emitter) EmitPlan(remote, pkg string, plan *history.Plan, canonical canonicalKeyringNames) error {
	mainRef := fmt.Sprintf("refs/debian/%s/%s", remote, pkg)
	upstreamRef := fmt.Sprintf("refs/upstream/%s/%s", remote, pkg)

	attach := make(map[string]string, len(plan.Entries)) // version -> upstream mark to merge, "" = none
	for _, entry := range plan.Entries {
		if entry.SP.Native {
			continue
		}
		origKey := entry.Unpacked.OrigKey
		if _, seen := e.origMarks[origKey]; seen {
			attach[entry.Version] = ""
			continue
		}
		tree, err := e.tree.WriteTree(entry.Unpacked.ODir)
		if err != nil {
			return err
		}
		mark := e.newMark()
		e.emitCommit(upstreamRef, mark, "", "", withWhen(tarImporter, time.Unix(entry.Unpacked.OrigMtime, 0).UTC()),
			fmt.Sprintf("Import %s\n", entry.SP.Version.Upstream), tree)
		e.origMarks[origKey] = mark
		attach[entry.Version] = mark
	}

	var newest string
	var newestVersion debversion.Version
	for _, entry := range plan.Entries {
		tree, err := e.tree.WriteTree(entry.Unpacked.XDir)
		if err != nil {
			return err
		}
		mark := e.newMark()

		committer := malformedChangelogAttribution
		if !entry.ChangelogBroken {
			committer = entry.Changelog.Author
		}

		from := ""
		if entry.HasParent {
			if entry.FromCommit != "" {
				from = entry.FromCommit
			} else {
				from = e.resolved[entry.PrevVer]
			}
		}
		merge := attach[entry.Version]

		e.emitCommit(mainRef, mark, from, merge, committer, fmt.Sprintf("Import %s\n", entry.Version), tree)
		e.resolved[entry.Version] = mark

		quotedVer := debversion.QuoteTag(entry.Version)
		e.emitReset("refs/tags/"+quotedVer, mark)

		if err := e.emitUploadTags(entry, mark, canonical); err != nil {
			return err
		}

		if newest == "" || debversion.Compare(entry.SP.Version, newestVersion) > 0 {
			newest = entry.Version
			newestVersion = entry.SP.Version
		}
	}

	if newest != "" {
		e.emitReset(mainRef, e.resolved[newest])
	}

	return e.w.Flush()
}

func withWhen(a identity.Attribution, t time.Time) identity.Attribution {
	a.When = t
	return a
}

func (e *Emitter) emitCommit(ref, mark, from, merge string, committer identity.Attribution, message, tree string) {
	fmt.Fprintf(e.w, "commit %s\n", ref)
	fmt.Fprintf(e.w, "mark %s\n", mark)
	fmt.Fprintf(e.w, "committer %s\n", committer)
	e.data([]byte(message))
	if from != "" {
		fmt.Fprintf(e.w, "from %s\n", from)
	}
	if merge != "" {
		fmt.Fprintf(e.w, "merge %s\n", merge)
	}
	fmt.Fprint(e.w, "deleteall\n")
	fmt.Fprintf(e.w, "M 040000 %s \"\"\n", tree)
	e.w.Flush()
}

func (e *Emitter) emitReset(ref, from string) {
	fmt.Fprintf(e.w, "reset %s\n", ref)
	fmt.Fprintf(e.w, "from %s\n\n", from)
	e.w.Flush()
}

// emitUploadTags implements spec.md §4.G "Upload tags".
func (e *Emitter) emitUploadTags(entry history.Entry, mark string, canonical canonicalKeyringNames) error {
	if entry.SP.MalformedTag {
		log.WithFields(log.Fields{"package": entry.SP.Package, "version": entry.Version}).
			Warn("fastimport: malformed version tag, tagging anyway")
	}
	seen := map[string]bool{}
	for _, fi := range entry.SP.DscFiles {
		uploadTag := fi.Archive + "/" + debversion.QuoteTag(entry.Version)
		if seen[uploadTag] {
			continue
		}
		seen[uploadTag] = true

		sig, ok := entry.SP.Sigs[fi.Hash]
		if !ok {
			return fmt.Errorf("fastimport: no signature recorded for %s", fi.Name)
		}
		name, email, err := e.fallbacks.Resolve(sig.KeyID, sig.UserID)
		if err != nil {
			return fmt.Errorf("fastimport: %s %s: %w", entry.SP.Package, entry.Version, err)
		}
		tagger := identity.Attribution{Fullname: name, Email: email, When: sig.SignedAt}

		firstLine := fmt.Sprintf("Upload %s", entry.Version)
		if !sig.Canonical(canonical) {
			firstLine += fmt.Sprintf(" (%s/%s %s)", sig.KeyringName, sig.KeyID, string(sig.SigType))
		}
		message := firstLine + "\n\n" + string(entry.SP.Cleartext)

		fmt.Fprintf(e.w, "tag %s\n", uploadTag)
		fmt.Fprintf(e.w, "from %s\n", mark)
		fmt.Fprintf(e.w, "tagger %s\n", tagger)
		e.data([]byte(message))
		e.w.Flush()
	}
	return nil
}

// data writes a byte-exact "data N" block (spec.md §4.G "Streaming discipline").
func (e *Emitter) data(payload []byte) {
	fmt.Fprintf(e.w, "data %d\n", len(payload))
	e.w.Write(payload)
	e.w.Write([]byte("\n"))
}
