package main

import (
	"testing"

	"voxelterrain.ai/internal/persistence/snapshot"
	"voxelterrain.ai/internal/terrain/volume"
)

func seedArchive(t *testing.T, keys ...volume.ChunkKey) *snapshot.DirArchive {
	t.Helper()
	a := snapshot.NewDirArchive(t.TempDir())
	for _, k := range keys {
		ch := volume.NewChunk(k, 8)
		ch.Fill(volume.Voxel{Density: -1})
		ch.Set(volume.Coord{X: 1, Y: 2, Z: 3}, volume.Voxel{Density: 0.5, Material: volume.MaterialDirt})
		ch.SetVersion(4)
		if err := a.SaveChunk(volume.ExportChunk("w1", ch)); err != nil {
			t.Fatalf("SaveChunk %v: %v", k, err)
		}
	}
	return a
}

func TestParseAABB(t *testing.T) {
	min, max, err := parseAABB("3,-1,0:-2,4,0")
	if err != nil {
		t.Fatalf("parseAABB: %v", err)
	}
	if min != [3]int{-2, -1, 0} || max != [3]int{3, 4, 0} {
		t.Fatalf("got min=%v max=%v", min, max)
	}
	if _, _, err := parseAABB("1,2,3"); err == nil {
		t.Fatalf("expected error for single corner")
	}
	if _, _, err := parseAABB("1,2:3,4"); err == nil {
		t.Fatalf("expected error for 2d corners")
	}
}

func TestResetChunks(t *testing.T) {
	a := seedArchive(t, volume.ChunkKey{X: 0}, volume.ChunkKey{X: 1}, volume.ChunkKey{X: 5})

	dry, err := resetChunks(a, "0,0,0:2,0,0", true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(dry) != 2 {
		t.Fatalf("dry run: got %d want 2", len(dry))
	}
	if keys, _ := a.Keys(); len(keys) != 3 {
		t.Fatalf("dry run removed files: %v", keys)
	}

	removed, err := resetChunks(a, "0,0,0:2,0,0", false)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("reset: got %d want 2", len(removed))
	}
	keys, err := a.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != [3]int{5, 0, 0} {
		t.Fatalf("remaining keys: %v", keys)
	}
}

func TestInspectChunk(t *testing.T) {
	a := seedArchive(t, volume.ChunkKey{X: 2, Y: -1, Z: 0})
	info, err := inspectChunk(a, [3]int{2, -1, 0})
	if err != nil {
		t.Fatalf("inspectChunk: %v", err)
	}
	if info.Edit != 4 || info.Size != 8 || info.Inside != 1 || info.Materials["dirt"] != 1 || info.Uniform {
		t.Fatalf("info mismatch: %+v", info)
	}
	if _, err := inspectChunk(a, [3]int{9, 9, 9}); err == nil {
		t.Fatalf("expected error for missing chunk")
	}
}
