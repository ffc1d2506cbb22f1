package editerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(Security, "compositor.encode", errors.New("tainted"))
	wrapped := fmt.Errorf("commit: %w", base)

	if got := KindOf(wrapped); got != Security {
		t.Errorf("KindOf: got %v, want %v", got, Security)
	}
	if !Is(wrapped, Security) {
		t.Error("Is(Security) should be true")
	}
	if Is(wrapped, Render) {
		t.Error("Is(Render) should be false")
	}
	if KindOf(errors.New("plain")) != Unknown {
		t.Error("plain error should be Unknown")
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{Decode, true},
		{Security, true},
		{Render, false},
		{Encode, false},
		{Upload, false},
		{InvalidGeometry, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := Terminal(New(tt.kind, "op", nil)); got != tt.want {
				t.Errorf("Terminal(%v): got %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestUserMessageDistinguishesSecurity(t *testing.T) {
	sec := UserMessage(New(Security, "op", nil))
	gen := UserMessage(New(Encode, "op", nil))
	if sec == gen {
		t.Fatalf("security and encode messages must differ: %q", sec)
	}
	if !strings.Contains(sec, "cross-origin") {
		t.Errorf("security message: got %q", sec)
	}
	if UserMessage(nil) != "" {
		t.Error("nil error should have empty message")
	}
}

func TestErrorString(t *testing.T) {
	err := Errorf(Render, "compositor.compose", "output %dx%d", 0, 10)
	want := "compositor.compose: render error: output 0x10"
	if err.Error() != want {
		t.Errorf("Error(): got %q, want %q", err.Error(), want)
	}
}
