package text

import "testing"

// E7
func TestIsDuplicateE7(t *testing.T) {
	got := IsDuplicate("Hello world", 1000, 2000, "Hello world", 1000, 2000, 0.75, 500)
	if !got {
		t.Fatalf("expected duplicate")
	}
}

// E8
func TestIsDuplicateE8InsufficientOverlap(t *testing.T) {
	got := IsDuplicate("Hello world", 1000, 2000, "Hello world", 1600, 3000, 0.75, 500)
	if got {
		t.Fatalf("expected not duplicate: overlap 400ms < 500ms threshold")
	}
}

func TestIsDuplicateDifferentTextNotDuplicate(t *testing.T) {
	got := IsDuplicate("Hello world", 1000, 2000, "Completely unrelated text", 1000, 2000, 0.75, 500)
	if got {
		t.Fatalf("expected no duplicate for dissimilar text")
	}
}

func TestIsDuplicateEmptyTextNeverDuplicate(t *testing.T) {
	if IsDuplicate("", 1000, 2000, "Hello world", 1000, 2000, 0.75, 500) {
		t.Fatalf("expected empty text to never match")
	}
}
