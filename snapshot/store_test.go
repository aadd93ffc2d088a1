package snapshot

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/gitdeb/gitdeb/manifest"
)

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestStorePutHasMirror(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	content := "hello world"
	realHash := sha1Hex(content)
	if err := s.Put(realHash, strings.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	if !s.Has(realHash, int64(len(content))) {
		t.Fatal("expected Has to report the stored content")
	}

	fi := manifest.FileInfo{Archive: "debian", Path: "pool/main/g/gzrt", Name: "gzrt_1.0.tar.gz", Size: int64(len(content)), Hash: realHash}
	if err := s.Mirror("gzrt", fi); err != nil {
		t.Fatal(err)
	}
	// Mirroring again must tolerate the same-inode hardlink collision.
	if err := s.Mirror("gzrt", fi); err != nil {
		t.Fatal(err)
	}
}

func TestStoreMirrorSkipsNonPackageNames(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	content := "x"
	realHash := sha1Hex(content)
	if err := s.Put(realHash, strings.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	fi := manifest.FileInfo{Archive: "debian", Path: "pool", Name: "empty.tar.gz", Size: 1, Hash: realHash}
	if err := s.Mirror("gzrt", fi); err != nil {
		t.Fatal(err)
	}
}
