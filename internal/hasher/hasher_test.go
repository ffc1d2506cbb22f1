package hasher

import (
	"strings"
	"testing"
)

func TestContentHash(t *testing.T) {
	data := []byte("cropped jpeg bytes")

	full := ContentHash(data, 0)
	if len(full) != 16 {
		t.Fatalf("full hash length: got %d, want 16", len(full))
	}
	if short := ContentHash(data, 8); short != full[:8] {
		t.Errorf("truncated hash: got %q, want %q", short, full[:8])
	}
	if ContentHash(data, 0) != full {
		t.Error("hash is not deterministic")
	}
	if ContentHash([]byte("other"), 0) == full {
		t.Error("different inputs produced the same hash")
	}
}

func TestHandleIDUsesSequence(t *testing.T) {
	data := []byte("preview")
	a := HandleID(data, 1)
	b := HandleID(data, 2)
	if a == b {
		t.Errorf("same payload with different sequence should differ: %s", a)
	}
	if HandleID(data, 1) != a {
		t.Error("HandleID is not deterministic")
	}
}

func TestUploadName(t *testing.T) {
	name := UploadName([]byte("x"), "jpg")
	if !strings.HasPrefix(name, "edited-") || !strings.HasSuffix(name, ".jpg") {
		t.Errorf("unexpected upload name %q", name)
	}
	if len(name) != len("edited-")+12+len(".jpg") {
		t.Errorf("unexpected upload name length %q", name)
	}
}
