package encoding

import "testing"

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint64, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 0xbf800000_00)
	}
	in = append(in, 9, 10, 10, 10)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc, 0)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_UniformIsCompact(t *testing.T) {
	in := make([]uint64, 4096)
	enc := EncodeRLE(in)
	if len(enc) > 4 {
		t.Fatalf("uniform payload not compact: %d bytes", len(enc))
	}
}

func TestDecodeRLE_Limit(t *testing.T) {
	enc := EncodeRLE(make([]uint64, 100))
	if _, err := DecodeRLE(enc, 64); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := DecodeRLE([]byte{0x80}, 0); err == nil {
		t.Fatalf("expected truncated varint error")
	}
}
