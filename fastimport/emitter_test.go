package fastimport

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gitdeb/gitdeb/changelog"
	"github.com/gitdeb/gitdeb/debversion"
	"github.com/gitdeb/gitdeb/dscpkg"
	"github.com/gitdeb/gitdeb/history"
	"github.com/gitdeb/gitdeb/identity"
	"github.com/gitdeb/gitdeb/manifest"
	"github.com/gitdeb/gitdeb/sigcheck"
	"github.com/gitdeb/gitdeb/unpack"
)

type fakeTreeWriter struct{ n int }

func (f *fakeTreeWriter) WriteTree(dir string) (string, error) {
	f.n++
	return strings.Repeat("a", 39) + string(rune('0'+f.n%10)), nil
}

func nativeEntry(version string, prevVer string, hasParent bool) history.Entry {
	v, _ := debversion.Parse(version)
	sp := &dscpkg.SourcePackage{
		Package: "gzrt",
		Version: v,
		Native:  true,
		DscFiles: []manifest.FileInfo{
			{Archive: "debian", Name: "gzrt_" + version + ".dsc", Hash: "h-" + version},
		},
		Sigs: map[string]sigcheck.SigInfo{
			"h-" + version: {
				KeyringName: "debian-keyring",
				KeyID:       "ABCDEF0123456789",
				UserID:      "Jane Maintainer <jane@debian.org>",
				SignedAt:    time.Unix(1000, 0).UTC(),
				SigType:     sigcheck.GoodSig,
			},
		},
		Cleartext: []byte("Source: gzrt\nVersion: " + version + "\n"),
	}
	return history.Entry{
		Version: version,
		SP:      sp,
		Unpacked: &unpack.Result{
			XDir: "/tmp/x-" + version,
		},
		Changelog: &changelog.Changelog{
			Author: identity.Attribution{Fullname: "Jane Maintainer", Email: "jane@debian.org", When: time.Unix(2000, 0).UTC()},
		},
		PrevVer:   prevVer,
		HasParent: hasParent,
	}
}

func TestEmitPlanLinearNative(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, &fakeTreeWriter{}, nil)

	plan := &history.Plan{
		Entries: []history.Entry{
			nativeEntry("1.0-1", "", false),
			nativeEntry("1.0-2", "1.0-1", true),
		},
	}

	if err := e.EmitPlan("debian.org", "gzrt", plan, canonicalKeyringNames{"debian-keyring": true}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if strings.Count(out, "commit refs/debian/debian.org/gzrt\n") != 2 {
		t.Fatalf("expected two main commits, got:\n%s", out)
	}
	if !strings.Contains(out, "from :1\n") {
		t.Fatalf("expected second commit to chain from the first mark, got:\n%s", out)
	}
	if !strings.Contains(out, "reset refs/tags/1.0-1\n") || !strings.Contains(out, "reset refs/tags/1.0-2\n") {
		t.Fatalf("expected per-version tag resets, got:\n%s", out)
	}
	if !strings.Contains(out, "tag debian/1.0-1\n") {
		t.Fatalf("expected an upload tag, got:\n%s", out)
	}
	if !strings.Contains(out, "Upload 1.0-1\n\nSource: gzrt") {
		t.Fatalf("expected upload tag body to carry the dsc cleartext, got:\n%s", out)
	}
	if !strings.Contains(out, "reset refs/debian/debian.org/gzrt\nfrom :2\n") {
		t.Fatalf("expected final branch reset to the newest mark, got:\n%s", out)
	}
}

func TestEmitPlanNonCanonicalSignatureSuffix(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, &fakeTreeWriter{}, nil)
	plan := &history.Plan{Entries: []history.Entry{nativeEntry("1.0-1", "", false)}}

	if err := e.EmitPlan("debian.org", "gzrt", plan, canonicalKeyringNames{}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "(debian-keyring/ABCDEF0123456789 GOODSIG)") {
		t.Fatalf("expected non-canonical suffix on the upload tag, got:\n%s", out)
	}
}

func TestEmitPlanMalformedIdentityWithoutFallbackIsFatal(t *testing.T) {
	entry := nativeEntry("1.0-1", "", false)
	entry.SP.Sigs["h-1.0-1"] = sigcheck.SigInfo{
		KeyringName: "debian-keyring",
		KeyID:       "ABCDEF0123456789",
		UserID:      "not an identity",
		SignedAt:    time.Unix(1000, 0).UTC(),
		SigType:     sigcheck.GoodSig,
	}
	e := NewEmitter(new(bytes.Buffer), &fakeTreeWriter{}, nil)
	plan := &history.Plan{Entries: []history.Entry{entry}}

	if err := e.EmitPlan("debian.org", "gzrt", plan, canonicalKeyringNames{"debian-keyring": true}); err == nil {
		t.Fatal("expected an identity-malformed error with no fallback registered")
	}
}

func TestEmitPlanMalformedIdentityRepairedByFallback(t *testing.T) {
	entry := nativeEntry("1.0-1", "", false)
	entry.SP.Sigs["h-1.0-1"] = sigcheck.SigInfo{
		KeyringName: "debian-keyring",
		KeyID:       "ABCDEF0123456789",
		UserID:      "not an identity",
		SignedAt:    time.Unix(1000, 0).UTC(),
		SigType:     sigcheck.GoodSig,
	}
	fb := identity.NewFallbacks([][2]string{{"ABCDEF0123456789", "jane@debian.org"}})
	e := NewEmitter(new(bytes.Buffer), &fakeTreeWriter{}, fb)
	plan := &history.Plan{Entries: []history.Entry{entry}}

	if err := e.EmitPlan("debian.org", "gzrt", plan, canonicalKeyringNames{"debian-keyring": true}); err != nil {
		t.Fatalf("expected the email= fallback to repair the identity, got %v", err)
	}
}
