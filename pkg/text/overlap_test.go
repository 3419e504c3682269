package text

import "testing"

// E9
func TestRemovePrefixOverlapE9(t *testing.T) {
	got := RemovePrefixOverlap("world this is new", "hello world this", 2)
	want := "is new"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// Invariant 5: with no overlap, the text is returned unchanged.
func TestRemovePrefixOverlapNoOverlapReturnsUnchanged(t *testing.T) {
	got := RemovePrefixOverlap("completely different words here", "nothing shared at all", 2)
	want := "completely different words here"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRemovePrefixOverlapCaseInsensitive(t *testing.T) {
	got := RemovePrefixOverlap("World This is new", "hello WORLD THIS", 2)
	want := "is new"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRemovePrefixOverlapEmptyInputsUnchanged(t *testing.T) {
	if got := RemovePrefixOverlap("", "hello world", 2); got != "" {
		t.Fatalf("expected empty text unchanged, got %q", got)
	}
}
