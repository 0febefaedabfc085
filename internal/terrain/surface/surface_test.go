package surface

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain.ai/internal/terrain/gen"
	"voxelterrain.ai/internal/terrain/noise"
	"voxelterrain.ai/internal/terrain/volume"
)

func TestTable_UsesEveryCrossingEdge(t *testing.T) {
	for mask := 0; mask < 256; mask++ {
		var want, got [12]bool
		for i, e := range edges {
			a := mask>>e.base&1 == 1
			b := mask>>(e.base|1<<e.axis)&1 == 1
			want[i] = a != b
		}
		tris := triTable[mask]
		if len(tris)%3 != 0 {
			t.Fatalf("mask %d: %d indices", mask, len(tris))
		}
		for _, e := range tris {
			got[e] = true
		}
		if want != got {
			t.Fatalf("mask %d: crossing edges %v, used %v", mask, want, got)
		}
	}
	if len(triTable[0]) != 0 || len(triTable[255]) != 0 {
		t.Fatalf("uniform cells produced triangles")
	}
	if ambiguousFaces[0b1001] != 1 {
		t.Fatalf("diagonal face pattern: got %d ambiguous faces want 1", ambiguousFaces[0b1001])
	}
}

func flatField() noise.Field {
	return noise.FuncField{Density: func(p mgl64.Vec3) float64 { return p[1] - 8 }}
}

func TestExtract_FlatPlane(t *testing.T) {
	g := gen.New(flatField(), 16, 1, gen.Bounds{})
	store := volume.NewStore(16)
	ch, _ := store.Create(volume.ChunkKey{})
	if err := g.Generate(ch); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	x := &Extractor{Method: MethodMarchingCubes, VoxelSize: 1, Fallback: g}
	m, st, err := x.ExtractChunk(store, ch)
	if err != nil {
		t.Fatalf("ExtractChunk: %v", err)
	}
	if ch.State() != volume.StateReady || ch.Mesh() != m {
		t.Fatalf("chunk after extract: state=%v", ch.State())
	}
	if got := len(m.Triangles); got != 2*16*16 {
		t.Fatalf("triangles: got %d want %d", got, 2*16*16)
	}
	if got := len(m.Vertices); got != 17*17 {
		t.Fatalf("vertices: got %d want %d", got, 17*17)
	}
	for i, v := range m.Vertices {
		if v.Position.Y() != 8 {
			t.Fatalf("vertex %d off plane: %v", i, v.Position)
		}
		if v.Normal.Y() >= 0 {
			t.Fatalf("vertex %d normal points into solid: %v", i, v.Normal)
		}
	}
	for i, tri := range m.Triangles {
		n := triNormal(m, tri)
		if n.Y() >= 0 {
			t.Fatalf("triangle %d winds toward solid: %v", i, n)
		}
	}
	if st.DegenerateTriangles != 0 {
		t.Fatalf("degenerate triangles: %d", st.DegenerateTriangles)
	}
}

func triNormal(m *volume.Mesh, tri [3]uint32) mgl32.Vec3 {
	p0, p1, p2 := m.Vertices[tri[0]].Position, m.Vertices[tri[1]].Position, m.Vertices[tri[2]].Position
	return p1.Sub(p0).Cross(p2.Sub(p0))
}

func terrainGenerator(t *testing.T) *gen.Generator {
	t.Helper()
	field, err := noise.NewTerrain(noise.TerrainConfig{
		Noise:       noise.Config{Seed: 5, Frequency: 0.07, Octaves: 3, Lacunarity: 2, Persistence: 0.5, Amplitude: 1},
		BaseHeight:  8,
		HeightScale: 4,
		GrassLine:   8,
		SnowLine:    100,
	})
	if err != nil {
		t.Fatalf("NewTerrain: %v", err)
	}
	return gen.New(field, 16, 1, gen.Bounds{})
}

func TestExtract_SeamsCoincide(t *testing.T) {
	g := terrainGenerator(t)
	store := volume.NewStore(16)
	a, _ := store.Create(volume.ChunkKey{X: 0})
	b, _ := store.Create(volume.ChunkKey{X: 1})
	for _, ch := range []*volume.Chunk{a, b} {
		if err := g.Generate(ch); err != nil {
			t.Fatalf("Generate %v: %v", ch.Key(), err)
		}
	}
	x := &Extractor{Method: MethodMarchingCubes, VoxelSize: 1, Fallback: g}
	ma, _, err := x.ExtractChunk(store, a)
	if err != nil {
		t.Fatalf("extract a: %v", err)
	}
	mb, _, err := x.ExtractChunk(store, b)
	if err != nil {
		t.Fatalf("extract b: %v", err)
	}

	onSeam := func(m *volume.Mesh) map[mgl32.Vec3]bool {
		out := map[mgl32.Vec3]bool{}
		for _, v := range m.Vertices {
			if v.Position.X() == 16 {
				out[v.Position] = true
			}
		}
		return out
	}
	sa, sb := onSeam(ma), onSeam(mb)
	if len(sa) == 0 {
		t.Fatalf("no surface crosses the seam")
	}
	for p := range sa {
		if !sb[p] {
			t.Fatalf("seam vertex %v from chunk a missing in chunk b", p)
		}
	}
	for p := range sb {
		if !sa[p] {
			t.Fatalf("seam vertex %v from chunk b missing in chunk a", p)
		}
	}
}

func TestExtract_SeamsMatchFallback(t *testing.T) {
	// A chunk meshed before its neighbor exists must agree with the
	// neighbor's later mesh.
	g := terrainGenerator(t)
	store := volume.NewStore(16)
	a, _ := store.Create(volume.ChunkKey{Z: 0})
	_ = g.Generate(a)
	x := &Extractor{Method: MethodMarchingCubes, VoxelSize: 1, Fallback: g}
	ma, _, _ := x.ExtractChunk(store, a)

	b, _ := store.Create(volume.ChunkKey{Z: 1})
	_ = g.Generate(b)
	mb, _, _ := x.ExtractChunk(store, b)

	seam := map[mgl32.Vec3]bool{}
	for _, v := range mb.Vertices {
		if v.Position.Z() == 16 {
			seam[v.Position] = true
		}
	}
	n := 0
	for _, v := range ma.Vertices {
		if v.Position.Z() == 16 {
			n++
			if !seam[v.Position] {
				t.Fatalf("seam vertex %v has no partner", v.Position)
			}
		}
	}
	if n == 0 {
		t.Fatalf("no surface crosses the seam")
	}
}

func solidStore(t *testing.T) (*volume.Store, *gen.Generator, *volume.Chunk) {
	t.Helper()
	solid := noise.FuncField{Density: func(mgl64.Vec3) float64 { return 1 }}
	g := gen.New(solid, 16, 1, gen.Bounds{})
	store := volume.NewStore(16)
	ch, _ := store.Create(volume.ChunkKey{})
	if err := g.Generate(ch); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return store, g, ch
}

// checkClosed fails unless every directed edge has exactly one opposite.
// It returns the Euler characteristic.
func checkClosed(t *testing.T, m *volume.Mesh) int {
	t.Helper()
	type dedge struct{ a, b uint32 }
	count := map[dedge]int{}
	for _, tri := range m.Triangles {
		for i := 0; i < 3; i++ {
			count[dedge{tri[i], tri[(i+1)%3]}]++
		}
	}
	used := map[uint32]bool{}
	for _, tri := range m.Triangles {
		used[tri[0]], used[tri[1]], used[tri[2]] = true, true, true
	}
	for e, n := range count {
		if n != 1 {
			t.Fatalf("directed edge %v used %d times", e, n)
		}
		if count[dedge{e.b, e.a}] != 1 {
			t.Fatalf("edge %v has no opposite", e)
		}
	}
	return len(used) - len(count)/2 + len(m.Triangles)
}

func TestExtract_CarvedCavityIsClosed(t *testing.T) {
	store, g, ch := solidStore(t)
	x := &Extractor{Method: MethodMarchingCubes, VoxelSize: 1, Fallback: g}
	m, _, err := x.ExtractChunk(store, ch)
	if err != nil {
		t.Fatalf("initial extract: %v", err)
	}
	if !m.Empty() {
		t.Fatalf("solid chunk produced %d triangles", len(m.Triangles))
	}

	e := gen.Edit{Center: mgl64.Vec3{8, 8, 8}, Radius: 2, Delta: -2}
	r, _ := g.RegionFor(e, ch.Key())
	if _, err := gen.ApplyEdit(ch, r, e.Delta, e.Material); err != nil {
		t.Fatalf("ApplyEdit: %v", err)
	}
	if ch.State() != volume.StateStale {
		t.Fatalf("state after edit: %v", ch.State())
	}
	m, _, err = x.ExtractChunk(store, ch)
	if err != nil {
		t.Fatalf("re-extract: %v", err)
	}
	if m.Empty() {
		t.Fatalf("carve produced no surface")
	}
	if m.Version != ch.Version() {
		t.Fatalf("mesh version %d, chunk version %d", m.Version, ch.Version())
	}
	if chi := checkClosed(t, m); chi != 2 {
		t.Fatalf("euler characteristic: got %d want 2", chi)
	}
	center := mgl32.Vec3{8, 8, 8}
	for i, v := range m.Vertices {
		d := v.Position.Sub(center).Len()
		if d < 1 || d > 2 {
			t.Fatalf("vertex %d at distance %v from carve center", i, d)
		}
		// Normals face the empty cavity.
		if v.Normal.Dot(center.Sub(v.Position)) <= 0 {
			t.Fatalf("vertex %d normal %v faces away from cavity", i, v.Normal)
		}
	}
}

func TestExtract_CubesSingleVoxel(t *testing.T) {
	g := gen.New(noise.FuncField{Density: func(mgl64.Vec3) float64 { return -1 }}, 8, 1, gen.Bounds{})
	store := volume.NewStore(8)
	ch, _ := store.Create(volume.ChunkKey{})
	_ = g.Generate(ch)
	ch.Set(volume.Coord{X: 3, Y: 3, Z: 3}, volume.Voxel{Density: 1, Material: volume.MaterialGrass})

	x := &Extractor{Method: MethodCubes, VoxelSize: 2, Fallback: g}
	m, _, err := x.ExtractChunk(store, ch)
	if err != nil {
		t.Fatalf("ExtractChunk: %v", err)
	}
	if len(m.Triangles) != 12 {
		t.Fatalf("triangles: got %d want 12", len(m.Triangles))
	}
	if len(m.Sections) != 1 || m.Sections[0].Material != volume.MaterialGrass {
		t.Fatalf("sections: %+v", m.Sections)
	}
	center := mgl32.Vec3{6, 6, 6}
	for i, tri := range m.Triangles {
		n := triNormal(m, tri)
		p := m.Vertices[tri[0]].Position
		if n.Dot(p.Sub(center)) <= 0 {
			t.Fatalf("triangle %d faces inward", i)
		}
		for _, vi := range tri {
			q := m.Vertices[vi].Position.Sub(center)
			for _, c := range q {
				if math.Abs(float64(c)) != 1 {
					t.Fatalf("cube corner %v not on voxel bounds", m.Vertices[vi].Position)
				}
			}
		}
	}
}

func TestExtractChunk_RejectsGenerating(t *testing.T) {
	store := volume.NewStore(8)
	ch, _ := store.Create(volume.ChunkKey{})
	_ = ch.Transition(volume.StateGenerating)
	x := &Extractor{VoxelSize: 1}
	_, _, err := x.ExtractChunk(store, ch)
	if !errors.Is(err, volume.ErrInvalidTransition) {
		t.Fatalf("got %v want ErrInvalidTransition", err)
	}
	if ch.State() != volume.StateGenerating {
		t.Fatalf("rejected chunk changed state to %v", ch.State())
	}
}

func TestExtract_MaterialSections(t *testing.T) {
	field := noise.FuncField{
		Density: func(p mgl64.Vec3) float64 { return 8 - p[1] },
		Material: func(p mgl64.Vec3) volume.Material {
			if p[0] < 8 {
				return volume.MaterialDirt
			}
			return volume.MaterialSnow
		},
	}
	g := gen.New(field, 16, 1, gen.Bounds{})
	store := volume.NewStore(16)
	ch, _ := store.Create(volume.ChunkKey{})
	_ = g.Generate(ch)
	x := &Extractor{Method: MethodMarchingCubes, VoxelSize: 1, Fallback: g}
	m, _, _ := x.ExtractChunk(store, ch)
	if len(m.Sections) != 2 {
		t.Fatalf("sections: got %+v", m.Sections)
	}
	total := 0
	for i, s := range m.Sections {
		if s.FirstTriangle != total {
			t.Fatalf("section %d starts at %d want %d", i, s.FirstTriangle, total)
		}
		total += s.TriangleCount
	}
	if total != len(m.Triangles) {
		t.Fatalf("sections cover %d of %d triangles", total, len(m.Triangles))
	}
	if m.Sections[0].Material != volume.MaterialDirt || m.Sections[1].Material != volume.MaterialSnow {
		t.Fatalf("section order: %+v", m.Sections)
	}
}
