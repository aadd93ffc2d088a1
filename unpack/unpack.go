// Package unpack is the Unpacker (spec.md §4.D): it expands a dsc into
// the fully-patched working tree used for the main branch, and, for
// non-native packages, the upstream-only working tree used for the
// upstream branch.
package unpack

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	log "github.com/sirupsen/logrus"

	"github.com/gitdeb/gitdeb/dscpkg"
)

// Result is what one dsc unpacks to.
type Result struct {
	XDir string // patched tree, used for the main branch commit

	// ODir and OrigMtime are zero for native packages, which have no
	// separate upstream tree.
	ODir      string
	OrigMtime int64
	OrigKey   string // dedup key: content hashes of (orig, comp0, comp1, ...)
	FreshODir bool   // false when ODir came from the Cache memo
}

type cacheEntry struct {
	odir      string
	origMtime int64
}

// Cache memoizes orig_key -> (orig_mtime, odir) across versions so that
// successive versions sharing an upstream tarball skip redundant
// extraction (spec.md §4.D "process-local memo"). It is owned by the
// history builder, not module-scoped state.
type Cache struct {
	entries map[string]cacheEntry
}

// NewCache returns an empty memo.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Unpack extracts dscPath (the local path of sp's dsc file) under
// workDir, which must already exist. Directories are named
// <pkg>_<version>-xdir and <pkg>_<version>-odir.
func Unpack(dscPath string, sp *dscpkg.SourcePackage, workDir string, cache *Cache) (*Result, error) {
	base := fmt.Sprintf("%s_%s", sp.Package, sp.Version.WithoutEpoch())
	xdir := filepath.Join(workDir, base+"-xdir")
	if err := run("dpkg-source", "--no-check", "--no-copy", "-x", dscPath, xdir); err != nil {
		return nil, fmt.Errorf("unpack: extracting patched tree: %w", err)
	}
	res := &Result{XDir: xdir}

	if sp.Native {
		return res, nil
	}

	origKey := computeOrigKey(sp)
	res.OrigKey = origKey

	if hit, ok := cache.entries[origKey]; ok {
		res.ODir = hit.odir
		res.OrigMtime = hit.origMtime
		log.WithField("orig_key", origKey).Debug("unpack: reusing memoized upstream tree")
		return res, nil
	}

	odir := filepath.Join(workDir, base+"-odir")
	if err := run("dpkg-source", "--no-check", "--no-copy", "--skip-debianization", "-x", dscPath, odir); err != nil {
		return nil, fmt.Errorf("unpack: extracting upstream tree: %w", err)
	}
	mtime, err := latestMtime(odir)
	if err != nil {
		return nil, fmt.Errorf("unpack: scanning upstream tree mtimes: %w", err)
	}
	res.ODir = odir
	res.OrigMtime = mtime
	res.FreshODir = true
	cache.entries[origKey] = cacheEntry{odir: odir, origMtime: mtime}
	return res, nil
}

// computeOrigKey builds the dedup key from the content hashes of the
// orig tarball first, then any orig-<subname> component tarballs in
// the order they appear in the dsc's Files field.
func computeOrigKey(sp *dscpkg.SourcePackage) string {
	byName := make(map[string]string, len(sp.Components))
	for _, c := range sp.Components {
		byName[c.Name] = c.Hash
	}
	parts := []string{byName[sp.OrigName]}
	for _, name := range sp.CompNames {
		parts = append(parts, byName[name])
	}
	return strings.Join(parts, ":")
}

func latestMtime(dir string) (int64, error) {
	var latest int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if m := info.ModTime().Unix(); m > latest {
			latest = m
		}
		return nil
	})
	return latest, err
}

// run shells out in the teacher's capture idiom (surgeon/extractor.go,
// surgeon/hgclient.go): build the logged command line with shellquote,
// execute it directly (no shell), and fold stdout/stderr together on
// failure.
func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	logged := shellquote.Join(append([]string{name}, args...)...)
	log.WithField("command", logged).Debug("unpack: running")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", logged, err, strings.TrimSpace(string(out)))
	}
	return nil
}
