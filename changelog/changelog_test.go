package changelog

import "testing"

const sample = `gzrt (1.2-3) unstable; urgency=low

  * Fix the thing.

 -- J. Random Developer <jrd@example.org>  Mon, 02 Aug 2010 15:04:05 +0000

gzrt (1.2-2) unstable; urgency=low

  * Earlier change.

 -- J. Random Developer <jrd@example.org>  Sun, 01 Aug 2010 10:00:00 +0000
`

func TestParse(t *testing.T) {
	cl, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(cl.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(cl.Entries))
	}
	if cl.Entries[0].Version != "1.2-3" || cl.Entries[1].Version != "1.2-2" {
		t.Fatalf("got versions %v", cl.Entries)
	}
	if cl.Author.Email != "jrd@example.org" {
		t.Fatalf("got author %+v", cl.Author)
	}
}

func TestParseBroken(t *testing.T) {
	if _, err := Parse([]byte("not a changelog at all\n")); err != ErrBroken {
		t.Fatalf("got %v, want ErrBroken", err)
	}
}

func TestParseLatin1Fallback(t *testing.T) {
	// 0xe9 is 'é' in Latin-1 but invalid standalone UTF-8.
	raw := append([]byte("gzrt (1.0-1) unstable; urgency=low\n\n  * R\xe9sum\xe9.\n\n"),
		[]byte(" -- J. Random Developer <jrd@example.org>  Mon, 02 Aug 2010 15:04:05 +0000\n")...)
	cl, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(cl.Entries) != 1 || cl.Entries[0].Version != "1.0-1" {
		t.Fatalf("got %+v", cl.Entries)
	}
}
