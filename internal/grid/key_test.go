package grid

import (
	"regexp"
	"testing"
)

func TestKey_CharsetAndRoundTrip(t *testing.T) {
	safe := regexp.MustCompile(`^[A-Za-z0-9_]+$`)

	cases := []Coord{
		{TX: 0, TY: 0},
		{TX: 1, TY: 2},
		{TX: -1, TY: 2},
		{TX: 12, TY: -7},
		{TX: -100000, TY: -1},
	}
	for _, c := range cases {
		k := c.Key()
		if !safe.MatchString(k) {
			t.Fatalf("key %q contains disallowed characters", k)
		}
		back, err := ParseKey(k)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", k, err)
		}
		if back != c {
			t.Fatalf("round trip %v -> %q -> %v", c, k, back)
		}
	}
}

func TestKey_Injective(t *testing.T) {
	seen := make(map[string]Coord)
	for tx := int64(-12); tx <= 12; tx++ {
		for ty := int64(-12); ty <= 12; ty++ {
			c := Coord{TX: tx, TY: ty}
			k := c.Key()
			if prev, ok := seen[k]; ok {
				t.Fatalf("key %q produced by both %v and %v", k, prev, c)
			}
			seen[k] = c
		}
	}
}

func TestParseKey_Malformed(t *testing.T) {
	for _, k := range []string{"", "1", "1_2_3", "a_b", "n0_1", "1_", "-1_2", "01_2", "1_02", "n01_3", "+1_2"} {
		if _, err := ParseKey(k); err == nil {
			t.Fatalf("ParseKey(%q) should fail", k)
		}
	}
}
