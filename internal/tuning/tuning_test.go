package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"voxelterrain.ai/internal/terrain/volume"
)

func TestLoad_RepoConfig(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "configs", "terrain.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.ChunkSize != 16 || tu.Noise.Seed != 1337 || tu.Noise.Octaves != 5 {
		t.Fatalf("unexpected values: %+v", tu)
	}
	b := tu.GenBounds()
	if !b.Contains(volume.ChunkKey{}) || b.Contains(volume.ChunkKey{Y: 8}) {
		t.Fatalf("bounds: %+v", b)
	}
	if tu.TickInterval().Milliseconds() != 50 {
		t.Fatalf("tick interval: %v", tu.TickInterval())
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrain.yaml")
	if err := os.WriteFile(path, []byte("chunk_size: 32\nnoise:\n  seed: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.ChunkSize != 32 || tu.Noise.Seed != 7 {
		t.Fatalf("overrides lost: %+v", tu)
	}
	if tu.Noise.Frequency != Defaults().Noise.Frequency || tu.Workers != Defaults().Workers {
		t.Fatalf("defaults lost: %+v", tu)
	}
	if tu.GenBounds().Unbounded() != true {
		t.Fatalf("zero bounds should be unbounded")
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"chunk":  "chunk_size: 1\n",
		"method": "mesh_method: dual_contouring\n",
		"noise":  "noise:\n  octaves: 0\n",
		"bounds": "bounds:\n  min: [1, 0, 0]\n  max: [0, 0, 0]\n",
		"yaml":   "chunk_size: [\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), name+".yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
