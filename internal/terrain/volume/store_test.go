package volume

import (
	"errors"
	"testing"
)

func TestStore_CreateIdempotent(t *testing.T) {
	s := NewStore(16)
	k := ChunkKey{X: 1, Y: -2, Z: 3}
	a, created := s.Create(k)
	if !created {
		t.Fatalf("first Create: created=false")
	}
	b, created := s.Create(k)
	if created {
		t.Fatalf("second Create: created=true")
	}
	if a != b {
		t.Fatalf("second Create returned a different chunk")
	}
	if s.Len() != 1 {
		t.Fatalf("len: got %d want 1", s.Len())
	}
	if a.State() != StateEmpty {
		t.Fatalf("state: got %v want empty", a.State())
	}
}

func TestStore_EvictAbsentIsSilent(t *testing.T) {
	s := NewStore(8)
	s.Evict(ChunkKey{})
	ch, _ := s.Create(ChunkKey{X: 2})
	s.Evict(ChunkKey{X: 2})
	if _, ok := s.Get(ChunkKey{X: 2}); ok {
		t.Fatalf("chunk still resident after Evict")
	}
	if ch.State() != StateEvicted {
		t.Fatalf("evicted chunk state: got %v", ch.State())
	}
	again, created := s.Create(ChunkKey{X: 2})
	if !created || again == ch || again.State() != StateEmpty {
		t.Fatalf("recreate after evict: created=%v state=%v", created, again.State())
	}
}

func TestStore_WriteVoxelBumpsVersion(t *testing.T) {
	s := NewStore(8)
	k := ChunkKey{}
	if _, ok := s.WriteVoxel(k, Coord{}, Voxel{Density: 1}); ok {
		t.Fatalf("WriteVoxel on absent chunk reported ok")
	}
	ch, _ := s.Create(k)
	v1, ok := s.WriteVoxel(k, Coord{1, 2, 3}, Voxel{Density: 0.5, Material: MaterialRock})
	if !ok || v1 != 1 {
		t.Fatalf("first write: version=%d ok=%v", v1, ok)
	}
	v2, _ := s.WriteVoxel(k, Coord{1, 2, 3}, Voxel{Density: 0.25, Material: MaterialRock})
	if v2 <= v1 {
		t.Fatalf("version not increasing: %d then %d", v1, v2)
	}
	if got := ch.Get(Coord{1, 2, 3}); got.Density != 0.25 {
		t.Fatalf("voxel: got %+v", got)
	}
}

func TestStore_KeysSorted(t *testing.T) {
	s := NewStore(4)
	for _, k := range []ChunkKey{{X: 1}, {X: -1, Y: 5}, {X: 1, Z: -3}, {}} {
		s.Create(k)
	}
	keys := s.Keys()
	for i := 1; i < len(keys); i++ {
		if !keys[i-1].Less(keys[i]) {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}

func TestChunk_SparseStorage(t *testing.T) {
	c := NewChunk(ChunkKey{}, 16)
	solid := Voxel{Density: 1, Material: MaterialRock}
	c.Fill(solid)
	if _, ok := c.Uniform(); !ok {
		t.Fatalf("filled chunk not uniform")
	}
	c.Set(Coord{3, 3, 3}, Voxel{Density: -1})
	if _, ok := c.Uniform(); ok {
		t.Fatalf("chunk uniform after differing write")
	}
	if got := c.DenseBricks(); got != 1 {
		t.Fatalf("dense bricks: got %d want 1", got)
	}
	if got := c.Get(Coord{3, 3, 3}); got.Density != -1 {
		t.Fatalf("written voxel: got %+v", got)
	}
	if got := c.Get(Coord{15, 0, 9}); got != solid {
		t.Fatalf("untouched voxel: got %+v want %+v", got, solid)
	}

	c.Set(Coord{3, 3, 3}, solid)
	c.Compact()
	if v, ok := c.Uniform(); !ok || v != solid {
		t.Fatalf("compact did not collapse: uniform=%v v=%+v", ok, v)
	}
}

func TestChunk_LoadVoxelsRoundTrip(t *testing.T) {
	c := NewChunk(ChunkKey{}, 8)
	for i := 0; i < 8; i++ {
		c.Set(Coord{i, i, i}, Voxel{Density: float32(i) / 8, Material: MaterialDirt})
	}
	d := NewChunk(ChunkKey{}, 8)
	if err := d.Load(c.Voxels()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Digest() != d.Digest() {
		t.Fatalf("digest mismatch after Load")
	}
	if err := d.Load(make([]Voxel, 3)); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestState_Transitions(t *testing.T) {
	c := NewChunk(ChunkKey{X: 4}, 8)
	path := []State{StateGenerating, StateFilled, StateMeshing, StateReady, StateStale, StateMeshing, StateReady, StateEvicted}
	for _, s := range path {
		if err := c.Transition(s); err != nil {
			t.Fatalf("Transition(%v): %v", s, err)
		}
	}

	bad := NewChunk(ChunkKey{}, 8)
	if err := bad.Transition(StateMeshing); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("empty -> meshing: got %v want ErrInvalidTransition", err)
	}
	var te *TransitionError
	_ = bad.Transition(StateGenerating)
	err := bad.Transition(StateEvicted)
	if !errors.As(err, &te) || te.From != StateGenerating || te.To != StateEvicted {
		t.Fatalf("generating -> evicted: got %v", err)
	}
	if CanTransition(StateEvicted, StateEmpty) {
		t.Fatalf("evicted must be terminal")
	}
}

func TestSnapshotChunk_RoundTrip(t *testing.T) {
	c := NewChunk(ChunkKey{X: -1, Y: 0, Z: 2}, 8)
	c.Fill(Voxel{Density: -0.5})
	c.Set(Coord{1, 1, 1}, Voxel{Density: 0.75, Material: MaterialSnow})
	c.BumpVersion()
	c.BumpVersion()

	snap := ExportChunk("w", c)
	if snap.Header.Edit != 2 {
		t.Fatalf("edit version: got %d want 2", snap.Header.Edit)
	}
	d := NewChunk(c.Key(), 8)
	if err := ImportChunk(d, snap); err != nil {
		t.Fatalf("ImportChunk: %v", err)
	}
	if d.Version() != 2 || d.Digest() != c.Digest() {
		t.Fatalf("import mismatch: version=%d", d.Version())
	}

	other := NewChunk(ChunkKey{}, 8)
	if err := ImportChunk(other, snap); err == nil {
		t.Fatalf("expected key mismatch error")
	}
}
