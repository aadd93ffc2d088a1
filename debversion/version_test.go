package debversion

import "testing"

func assertEqual(t *testing.T, a, b interface{}) {
	t.Helper()
	if a != b {
		t.Fatalf("expected %v == %v", a, b)
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0-1", "1.0-2", -1},
		{"1.0-2", "1.0-1", 1},
		{"1.0", "1.0", 0},
		{"1:1.0-1", "2.0-1", 1},
		{"1.0~rc1", "1.0", -1},
		{"1.0~rc1", "1.0~rc2", -1},
		{"7.40-2", "7.40-2", 0},
		{"0.97-16.1~bpo.1", "0.97-16.1", -1},
		{"1.0.0", "1.0", 1},
		{"2:1.0", "1:9.0", 1},
	}
	for _, c := range cases {
		va, err := Parse(c.a)
		if err != nil {
			t.Fatalf("parse %q: %v", c.a, err)
		}
		vb, err := Parse(c.b)
		if err != nil {
			t.Fatalf("parse %q: %v", c.b, err)
		}
		got := Compare(va, vb)
		// Normalize to -1/0/1 for comparison against the table.
		switch {
		case got < 0:
			got = -1
		case got > 0:
			got = 1
		}
		if got != c.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestQuoteTagRoundTrip(t *testing.T) {
	versions := []string{
		"1.0-1",
		"0.97-16.1~bpo.1",
		"1:2.3.4-5",
		"2:1.0~rc1-1",
	}
	for _, v := range versions {
		q := QuoteTag(v)
		assertEqual(t, UnquoteTag(q), v)
	}
}

func TestWithoutEpoch(t *testing.T) {
	v, err := Parse("1:1.23-4")
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, v.WithoutEpoch(), "1.23-4")

	v2, err := Parse("1.23")
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, v2.WithoutEpoch(), "1.23")
}
