package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrBadRequest,
		ErrOutOfBounds,
		ErrRateLimit,
		ErrBusy,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCompatible(t *testing.T) {
	cases := map[string]bool{
		"1.0": true,
		"1.3": true,
		"1":   true,
		"0.9": false,
		"2.0": false,
		"":    false,
	}
	for v, want := range cases {
		if got := Compatible(v); got != want {
			t.Fatalf("Compatible(%q): got %v want %v", v, got, want)
		}
	}
}
