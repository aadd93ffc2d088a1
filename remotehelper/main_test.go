package main

import "testing"

func TestParseURLBasic(t *testing.T) {
	pkg, skip, trust, fallbacks, err := parseURL("deb:///gzrt?skip=1.0-1,1.0-2&trust=ABCDEF0123456789&email=ABCDEF0123456789%20jane%40debian.org")
	if err != nil {
		t.Fatal(err)
	}
	if pkg != "gzrt" {
		t.Fatalf("got package %q", pkg)
	}
	if !skip["1.0-1"] || !skip["1.0-2"] || len(skip) != 2 {
		t.Fatalf("got skip %v", skip)
	}
	if len(trust) != 1 || trust[0] != "ABCDEF0123456789" {
		t.Fatalf("got trust %v", trust)
	}
	_, email, err := fallbacks.Resolve("ABCDEF0123456789", "no user id here")
	if err != nil || email != "jane@debian.org" {
		t.Fatalf("got email %q err %v", email, err)
	}
}

func TestParseURLRejectsWrongScheme(t *testing.T) {
	if _, _, _, _, err := parseURL("https:///gzrt"); err == nil {
		t.Fatal("expected a non-deb scheme to be rejected")
	}
}

func TestParseURLRejectsEmptyPackage(t *testing.T) {
	if _, _, _, _, err := parseURL("deb://"); err == nil {
		t.Fatal("expected an empty package path to be rejected")
	}
}
