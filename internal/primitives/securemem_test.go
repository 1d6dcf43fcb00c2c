package primitives

import "testing"

func TestHolderZeroizeOnDestroy(t *testing.T) {
	h := NewHolder([]byte("super-secret-key-material-here!"))
	defer h.Destroy()
	if h.Len() != 32 {
		t.Fatalf("expected 32 bytes held, got %d", h.Len())
	}
	h.Destroy()
	for _, b := range h.AsSlice() {
		if b != 0 {
			t.Fatalf("expected zeroized buffer after destroy")
		}
	}
	// Destroy must be idempotent.
	h.Destroy()
}

func TestGuardedHolderRoundTrip(t *testing.T) {
	g, err := NewGuardedHolder([]byte("guarded-key-material"))
	if err != nil {
		t.Fatalf("new guarded holder: %v", err)
	}
	defer g.Destroy()
	if string(g.AsSlice()) != "guarded-key-material" {
		t.Fatalf("unexpected guarded contents")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte("token-value")
	b := []byte("token-value")
	c := []byte("different!!!")
	if !ConstantTimeEqual(a, b) {
		t.Fatalf("expected equal tokens to compare equal")
	}
	if ConstantTimeEqual(a, c) {
		t.Fatalf("expected different tokens to compare unequal")
	}
	if ConstantTimeEqual(a, []byte("short")) {
		t.Fatalf("expected different-length tokens to compare unequal")
	}
}
