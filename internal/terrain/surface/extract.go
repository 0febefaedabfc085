package surface

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.ai/internal/terrain/volume"
)

type Method string

const (
	MethodMarchingCubes Method = "marching_cubes"
	MethodCubes         Method = "cubes"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodMarchingCubes, "":
		return MethodMarchingCubes, nil
	case MethodCubes:
		return MethodCubes, nil
	}
	return "", fmt.Errorf("unknown mesh method %q", s)
}

// Stats reports recoverable oddities met during one extraction.
type Stats struct {
	Cells               int // cells that produced geometry
	AmbiguousFaces      int
	DegenerateTriangles int
}

func (s *Stats) Add(o Stats) {
	s.Cells += o.Cells
	s.AmbiguousFaces += o.AmbiguousFaces
	s.DegenerateTriangles += o.DegenerateTriangles
}

// Extractor turns captured grids into meshes. It is stateless and safe to
// share across workers.
type Extractor struct {
	Method    Method
	VoxelSize float64
	Fallback  Sampler
}

func (x *Extractor) Capture(store *volume.Store, ch *volume.Chunk) *Grid {
	return Capture(store, ch, x.Fallback)
}

func (x *Extractor) Extract(g *Grid) (*volume.Mesh, Stats) {
	vs := x.VoxelSize
	if vs <= 0 {
		vs = 1
	}
	b := newBuilder(g, vs)
	if x.Method == MethodCubes {
		b.cubes()
	} else {
		b.marchingCubes()
	}
	return b.finish(), b.stats
}

// ExtractChunk meshes a Filled or Stale chunk in place, moving it through
// Meshing to Ready and attaching the mesh.
func (x *Extractor) ExtractChunk(store *volume.Store, ch *volume.Chunk) (*volume.Mesh, Stats, error) {
	prev := ch.State()
	if prev != volume.StateFilled && prev != volume.StateStale {
		return nil, Stats{}, &volume.TransitionError{Key: ch.Key(), From: prev, To: volume.StateMeshing}
	}
	if err := ch.Transition(volume.StateMeshing); err != nil {
		return nil, Stats{}, err
	}
	m, st := x.Extract(x.Capture(store, ch))
	ch.SetMesh(m)
	if err := ch.Transition(volume.StateReady); err != nil {
		return nil, st, err
	}
	return m, st, nil
}

type vertexKey struct {
	id  int
	mat volume.Material
}

type builder struct {
	g     *Grid
	vs    float64
	stats Stats

	verts  []volume.Vertex
	lookup map[vertexKey]uint32
	tris   map[volume.Material][][3]uint32
}

func newBuilder(g *Grid, voxelSize float64) *builder {
	return &builder{
		g:      g,
		vs:     voxelSize,
		lookup: map[vertexKey]uint32{},
		tris:   map[volume.Material][][3]uint32{},
	}
}

func (b *builder) addVertex(v volume.Vertex) uint32 {
	b.verts = append(b.verts, v)
	return uint32(len(b.verts) - 1)
}

func (b *builder) addTriangle(mat volume.Material, t [3]uint32) {
	p0, p1, p2 := b.verts[t[0]].Position, b.verts[t[1]].Position, b.verts[t[2]].Position
	if p1.Sub(p0).Cross(p2.Sub(p0)).Len() == 0 {
		b.stats.DegenerateTriangles++
	}
	b.tris[mat] = append(b.tris[mat], t)
}

// finish lays triangles out grouped by ascending material.
func (b *builder) finish() *volume.Mesh {
	m := &volume.Mesh{Key: b.g.Key, Version: b.g.Version, Vertices: b.verts}
	mats := make([]volume.Material, 0, len(b.tris))
	for mat := range b.tris {
		mats = append(mats, mat)
	}
	sort.Slice(mats, func(i, j int) bool { return mats[i] < mats[j] })
	for _, mat := range mats {
		ts := b.tris[mat]
		m.Sections = append(m.Sections, volume.Section{
			Material:      mat,
			FirstTriangle: len(m.Triangles),
			TriangleCount: len(ts),
		})
		m.Triangles = append(m.Triangles, ts...)
	}
	return m
}

func (b *builder) world(x, y, z float64) mgl32.Vec3 {
	o := b.g.origin
	return mgl32.Vec3{
		float32((float64(o[0]) + x) * b.vs),
		float32((float64(o[1]) + y) * b.vs),
		float32((float64(o[2]) + z) * b.vs),
	}
}
