// Package manifest holds the leaf data types shared by the snapshot
// client and the source package model: one manifest entry per file
// the archive has ever served under a given path, and the triple that
// identifies its location.
package manifest

import "sort"

// PathKey identifies a file location across archives (spec.md §3
// "PathKey"). Every PathKey maps to exactly one content hash.
type PathKey struct {
	Archive string
	Path    string
	Name    string
}

// FileInfo is one entry in the snapshot manifest (spec.md §3 "FileInfo").
type FileInfo struct {
	Archive   string
	Path      string
	Name      string
	Size      int64
	FirstSeen int64 // unix seconds
	Hash      string // SHA-1 hex, empty until resolved
}

// Key returns this FileInfo's PathKey.
func (fi FileInfo) Key() PathKey {
	return PathKey{Archive: fi.Archive, Path: fi.Path, Name: fi.Name}
}

// SortByPrecedence orders FileInfos by (first_seen, name, archive_name,
// path) to yield the deterministic "upload precedence" representative
// named in spec.md §3.
func SortByPrecedence(infos []FileInfo) {
	sort.Slice(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if a.FirstSeen != b.FirstSeen {
			return a.FirstSeen < b.FirstSeen
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Archive != b.Archive {
			return a.Archive < b.Archive
		}
		return a.Path < b.Path
	})
}
