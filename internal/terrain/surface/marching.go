package surface

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain.ai/internal/terrain/volume"
)

// marchingCubes emits triangles for cells whose lower corner is local
// 0..Size-1. Cells on the far faces belong to the next chunk, which reads
// the same shared voxels, so both sides agree on every seam vertex.
func (b *builder) marchingCubes() {
	g := b.g
	for cz := 0; cz < g.Size; cz++ {
		for cy := 0; cy < g.Size; cy++ {
			for cx := 0; cx < g.Size; cx++ {
				var corner [8]volume.Voxel
				mask := 0
				for c := 0; c < 8; c++ {
					v := g.At(cx+c&1, cy+c>>1&1, cz+c>>2&1)
					corner[c] = v
					if v.Inside() {
						mask |= 1 << c
					}
				}
				if mask == 0 || mask == 255 {
					continue
				}
				b.stats.Cells++
				b.stats.AmbiguousFaces += int(ambiguousFaces[mask])

				// Faces take the material of the strongest inside corner.
				mat := volume.MaterialNone
				best := float32(0)
				for c := 0; c < 8; c++ {
					if mask&(1<<c) != 0 && corner[c].Density > best {
						mat, best = corner[c].Material, corner[c].Density
					}
				}

				tris := triTable[mask]
				for i := 0; i+2 < len(tris); i += 3 {
					b.addTriangle(mat, [3]uint32{
						b.edgeVertex(cx, cy, cz, tris[i], mat),
						b.edgeVertex(cx, cy, cz, tris[i+1], mat),
						b.edgeVertex(cx, cy, cz, tris[i+2], mat),
					})
				}
			}
		}
	}
}

// edgeVertex returns the vertex on one cell edge, shared by every cell
// touching that edge within this chunk.
func (b *builder) edgeVertex(cx, cy, cz int, e uint8, mat volume.Material) uint32 {
	ed := edges[e]
	lo := [3]int{cx + int(ed.base&1), cy + int(ed.base>>1&1), cz + int(ed.base>>2&1)}
	n := b.g.Size + 1
	key := vertexKey{id: ((lo[2]*n+lo[1])*n+lo[0])*3 + int(ed.axis), mat: mat}
	if idx, ok := b.lookup[key]; ok {
		return idx
	}

	hi := lo
	hi[ed.axis]++
	dlo := b.g.density(lo[0], lo[1], lo[2])
	dhi := b.g.density(hi[0], hi[1], hi[2])
	// Always measured from the lower corner so both chunks sharing an
	// edge compute the same float.
	t := dlo / (dlo - dhi)

	p := [3]float64{float64(lo[0]), float64(lo[1]), float64(lo[2])}
	p[ed.axis] += t

	gn := b.gradient(lo).Mul(1 - t).Add(b.gradient(hi).Mul(t))
	normal := gn.Mul(-1)
	if l := normal.Len(); l > 1e-12 {
		normal = normal.Mul(1 / l)
	} else {
		normal = mgl64.Vec3{}
		if dlo > 0 {
			normal[ed.axis] = 1
		} else {
			normal[ed.axis] = -1
		}
	}

	idx := b.addVertex(volume.Vertex{
		Position: b.world(p[0], p[1], p[2]),
		Normal:   mgl32.Vec3{float32(normal[0]), float32(normal[1]), float32(normal[2])},
		Material: mat,
	})
	b.lookup[key] = idx
	return idx
}

// gradient is the central difference at a local lattice point in [0, Size+1).
func (b *builder) gradient(p [3]int) mgl64.Vec3 {
	g := b.g
	x, y, z := p[0], p[1], p[2]
	return mgl64.Vec3{
		(g.density(x+1, y, z) - g.density(x-1, y, z)) / 2,
		(g.density(x, y+1, z) - g.density(x, y-1, z)) / 2,
		(g.density(x, y, z+1) - g.density(x, y, z-1)) / 2,
	}
}
