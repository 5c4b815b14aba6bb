package utils

import "testing"

func TestHashKeyStable(t *testing.T) {
	a := HashKey("req-1", "insight")
	b := HashKey("req-1", "insight")
	if a != b {
		t.Errorf("same parts hashed differently: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("key length = %d, want 32 hex chars", len(a))
	}
}

func TestHashKeyDistinguishesParts(t *testing.T) {
	if HashKey("req-1", "insight") == HashKey("req-1", "failure") {
		t.Error("different outcomes must hash differently")
	}
	// Joining with a separator keeps ("ab","c") apart from ("a","bc").
	if HashKey("ab", "c") == HashKey("a", "bc") {
		t.Error("part boundaries must affect the key")
	}
}
