package volume

import "github.com/go-gl/mathgl/mgl32"

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	Material Material
}

// Section is a run of triangles sharing one material.
type Section struct {
	Material      Material
	FirstTriangle int
	TriangleCount int
}

// Mesh is the renderable surface of one chunk, built from its voxels at
// edit version Version. Triangles are grouped by material and wind
// counter-clockwise seen from outside the surface.
type Mesh struct {
	Key       ChunkKey
	Version   uint64
	Vertices  []Vertex
	Triangles [][3]uint32
	Sections  []Section
}

func (m *Mesh) Empty() bool { return m == nil || len(m.Triangles) == 0 }
