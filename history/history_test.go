package history

import (
	"testing"

	"github.com/gitdeb/gitdeb/changelog"
)

func fakeCandidate(versionChain ...string) *candidate {
	entries := make([]changelog.Entry, len(versionChain))
	for i, v := range versionChain {
		entries[i] = changelog.Entry{Version: v}
	}
	return &candidate{changelog: &changelog.Changelog{Entries: entries}}
}

func neverResolved(string) (string, bool) { return "", false }

func TestBuildChangelogBrokenKeptOutsideSpine(t *testing.T) {
	b := &Builder{}
	chains := map[string]*candidate{
		"1.0-1": fakeCandidate("1.0-1"),
		"1.0-2": {changelogBroken: true},
	}
	b.fetch = func(pkg, v string) (*candidate, bool, error) {
		return chains[v], true, nil
	}

	plan, err := b.Build(Input{
		Package:  "gzrt",
		Versions: []string{"1.0-2", "1.0-1"},
		Skip:     map[string]bool{},
		Resolved: neverResolved,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 2 {
		t.Fatalf("got %d entries, want 2 (broken changelog is kept)", len(plan.Entries))
	}
	var broken *Entry
	for i := range plan.Entries {
		if plan.Entries[i].Version == "1.0-2" {
			broken = &plan.Entries[i]
		}
	}
	if broken == nil || !broken.ChangelogBroken || broken.PrevVer != "" {
		t.Fatalf("got %+v", broken)
	}
}

func TestBuildLinearChain(t *testing.T) {
	b := &Builder{}
	chains := map[string]*candidate{
		"1.0-1": fakeCandidate("1.0-1"),
		"1.0-2": fakeCandidate("1.0-2", "1.0-1"),
		"1.0-3": fakeCandidate("1.0-3", "1.0-2", "1.0-1"),
	}
	b.fetch = func(pkg, v string) (*candidate, bool, error) {
		return chains[v], true, nil
	}

	plan, err := b.Build(Input{
		Package:  "gzrt",
		Versions: []string{"1.0-3", "1.0-2", "1.0-1"},
		Skip:     map[string]bool{},
		Resolved: neverResolved,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 3 {
		t.Fatalf("got %d entries", len(plan.Entries))
	}
	got := []string{plan.Entries[0].Version, plan.Entries[1].Version, plan.Entries[2].Version}
	want := []string{"1.0-1", "1.0-2", "1.0-3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emission order = %v, want %v", got, want)
		}
	}
	if plan.Entries[0].PrevVer != "" {
		t.Fatalf("root entry should have no predecessor, got %q", plan.Entries[0].PrevVer)
	}
	if plan.Entries[2].PrevVer != "1.0-2" || !plan.Entries[2].HasParent {
		t.Fatalf("1.0-3 should chain from 1.0-2, got %+v", plan.Entries[2])
	}
	if len(plan.Ghosts) != 0 {
		t.Fatalf("expected no ghosts, got %v", plan.Ghosts)
	}
}

func TestBuildGhostEntry(t *testing.T) {
	b := &Builder{}
	chains := map[string]*candidate{
		"1.0-1": fakeCandidate("1.0-1"),
		// names a version never uploaded ("0.9-1") before reaching 1.0-1
		"1.0-2": fakeCandidate("1.0-2", "0.9-1", "1.0-1"),
	}
	b.fetch = func(pkg, v string) (*candidate, bool, error) {
		return chains[v], true, nil
	}

	plan, err := b.Build(Input{
		Package:  "gzrt",
		Versions: []string{"1.0-2", "1.0-1"},
		Skip:     map[string]bool{},
		Resolved: neverResolved,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Ghosts) != 1 || plan.Ghosts[0].Version != "0.9-1" {
		t.Fatalf("got ghosts %v", plan.Ghosts)
	}
	if plan.Entries[1].PrevVer != "1.0-1" {
		t.Fatalf("1.0-2 should still resolve 1.0-1 as predecessor, got %+v", plan.Entries[1])
	}
}

func TestBuildDepthWindowCutPoint(t *testing.T) {
	b := &Builder{}
	chains := map[string]*candidate{
		"1.0-2": fakeCandidate("1.0-2", "1.0-1"),
	}
	b.fetch = func(pkg, v string) (*candidate, bool, error) {
		return chains[v], true, nil
	}

	plan, err := b.Build(Input{
		Package:  "gzrt",
		Versions: []string{"1.0-2", "1.0-1"},
		Skip:     map[string]bool{},
		Depth:    1,
		Resolved: neverResolved,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(plan.Entries))
	}
	if plan.Entries[0].PrevVer != "1.0-1" || plan.Entries[0].HasParent {
		t.Fatalf("got %+v, want prevVer set but HasParent false (outside depth window)", plan.Entries[0])
	}
	if len(plan.Ghosts) != 0 {
		t.Fatalf("a real out-of-window version must not be a ghost, got %v", plan.Ghosts)
	}
}

func TestBuildSkipExcludesVersionEntirely(t *testing.T) {
	b := &Builder{}
	chains := map[string]*candidate{
		"1.0-1": fakeCandidate("1.0-1"),
		// 1.0-2 is skipped and must never reach fetch.
		"1.0-3": fakeCandidate("1.0-3", "1.0-2", "1.0-1"),
	}
	var fetched []string
	b.fetch = func(pkg, v string) (*candidate, bool, error) {
		fetched = append(fetched, v)
		cand, ok := chains[v]
		return cand, ok, nil
	}

	plan, err := b.Build(Input{
		Package:  "gzrt",
		Versions: []string{"1.0-3", "1.0-2", "1.0-1"},
		Skip:     map[string]bool{"1.0-2": true},
		Resolved: neverResolved,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range fetched {
		if v == "1.0-2" {
			t.Fatalf("skipped version 1.0-2 was fetched/signature-checked: %v", fetched)
		}
	}
	if len(plan.Ghosts) != 0 {
		t.Fatalf("a skipped version must not be reported as a ghost, got %v", plan.Ghosts)
	}
	for _, e := range plan.Entries {
		if e.Version == "1.0-2" {
			t.Fatalf("skipped version 1.0-2 was emitted: %+v", e)
		}
	}
	var got3 *Entry
	for i := range plan.Entries {
		if plan.Entries[i].Version == "1.0-3" {
			got3 = &plan.Entries[i]
		}
	}
	if got3 == nil || got3.PrevVer != "1.0-1" {
		t.Fatalf("1.0-3 should link past skipped 1.0-2 to 1.0-1, got %+v", got3)
	}
}

func TestBuildDroppedKnownVersionIsGhost(t *testing.T) {
	b := &Builder{}
	chains := map[string]*candidate{
		"1.0-1": fakeCandidate("1.0-1"),
		// 1.0-2 is known (in Versions) but has no source, so it drops.
		"1.0-3": fakeCandidate("1.0-3", "1.0-2", "1.0-1"),
	}
	b.fetch = func(pkg, v string) (*candidate, bool, error) {
		cand, ok := chains[v]
		return cand, ok, nil
	}

	plan, err := b.Build(Input{
		Package:  "gzrt",
		Versions: []string{"1.0-3", "1.0-2", "1.0-1"},
		Skip:     map[string]bool{},
		Resolved: neverResolved,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Ghosts) != 1 || plan.Ghosts[0].Version != "1.0-2" {
		t.Fatalf("dropped-but-known predecessor should be reported as a ghost, got %v", plan.Ghosts)
	}
}

func TestBuildMissingSourceDropped(t *testing.T) {
	b := &Builder{}
	chains := map[string]*candidate{
		"1.0-1": fakeCandidate("1.0-1"),
	}
	b.fetch = func(pkg, v string) (*candidate, bool, error) {
		cand, ok := chains[v]
		return cand, ok, nil
	}

	plan, err := b.Build(Input{
		Package:  "gzrt",
		Versions: []string{"1.0-2", "1.0-1"},
		Skip:     map[string]bool{},
		Resolved: neverResolved,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Dropped) != 1 || plan.Dropped[0] != "1.0-2" {
		t.Fatalf("got dropped %v", plan.Dropped)
	}
	if len(plan.Entries) != 1 || plan.Entries[0].Version != "1.0-1" {
		t.Fatalf("got entries %v", plan.Entries)
	}
}
