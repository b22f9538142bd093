package util

import "testing"

func TestNewIDIsUUID(t *testing.T) {
	id := NewID()
	if !IsID(id) {
		t.Fatalf("NewID() = %q, not a UUID", id)
	}
	if id == NewID() {
		t.Fatal("expected distinct ids")
	}
}

func TestIsIDRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "course-1", "1234"} {
		if IsID(value) {
			t.Fatalf("IsID(%q) = true", value)
		}
	}
}

func TestRandomHexLength(t *testing.T) {
	if got := RandomHex(16); len(got) != 32 {
		t.Fatalf("RandomHex(16) length = %d, want 32", len(got))
	}
}
