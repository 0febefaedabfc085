package snapshot

import (
	"bytes"
	"testing"
)

func TestDirArchive_RoundTrip(t *testing.T) {
	a := NewDirArchive(t.TempDir())
	in := ChunkV1{
		Header: Header{Version: FormatVersion, WorldID: "w", Chunk: [3]int{-1, 0, 2}, Edit: 7},
		Size:   16,
		Voxels: []byte{1, 2, 3, 4},
		Digest: "abc",
	}
	if err := a.SaveChunk(in); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	out, ok, err := a.LoadChunk([3]int{-1, 0, 2})
	if err != nil || !ok {
		t.Fatalf("LoadChunk: ok=%v err=%v", ok, err)
	}
	if out.Header != in.Header || out.Size != in.Size || out.Digest != in.Digest || !bytes.Equal(out.Voxels, in.Voxels) {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}

	keys, err := a.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != [3]int{-1, 0, 2} {
		t.Fatalf("keys: got %v", keys)
	}
}

func TestDirArchive_Missing(t *testing.T) {
	a := NewDirArchive(t.TempDir())
	_, ok, err := a.LoadChunk([3]int{0, 0, 0})
	if err != nil || ok {
		t.Fatalf("missing chunk: ok=%v err=%v", ok, err)
	}
}

func TestDirArchive_EnsureWorld(t *testing.T) {
	a := NewDirArchive(t.TempDir())
	w := WorldV1{WorldID: "w", Seed: 1, ChunkSize: 16, VoxelSize: 1}
	if err := a.EnsureWorld(w); err != nil {
		t.Fatalf("first EnsureWorld: %v", err)
	}
	if err := a.EnsureWorld(w); err != nil {
		t.Fatalf("second EnsureWorld: %v", err)
	}
	w.Seed = 2
	if err := a.EnsureWorld(w); err == nil {
		t.Fatalf("expected mismatch error")
	}
}
