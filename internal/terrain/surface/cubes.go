package surface

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.ai/internal/terrain/volume"
)

var faceDirs = [6][3]int{{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1}}

// cubes emits one quad for every face between an inside voxel of this
// chunk and an outside voxel. Each voxel is a unit cube centered on its
// sample point; faces are owned by the inside voxel, so no face is
// emitted twice across a seam.
func (b *builder) cubes() {
	g := b.g
	for z := 0; z < g.Size; z++ {
		for y := 0; y < g.Size; y++ {
			for x := 0; x < g.Size; x++ {
				v := g.At(x, y, z)
				if !v.Inside() {
					continue
				}
				emitted := false
				for f, d := range faceDirs {
					if g.At(x+d[0], y+d[1], z+d[2]).Inside() {
						continue
					}
					b.quad(x, y, z, uint8(f/2), uint8(f%2), v.Material)
					emitted = true
				}
				if emitted {
					b.stats.Cells++
				}
			}
		}
	}
}

func (b *builder) quad(x, y, z int, axis, side uint8, mat volume.Material) {
	var normal mgl32.Vec3
	normal[axis] = float32(int(side)*2 - 1)
	cs := faceCorners(axis, side)
	var idx [4]uint32
	for i, c := range cs {
		// Corner bits pick -0.5 or +0.5 around the voxel center.
		px := float64(x) - 0.5 + float64(c&1)
		py := float64(y) - 0.5 + float64(c>>1&1)
		pz := float64(z) - 0.5 + float64(c>>2&1)
		idx[i] = b.addVertex(volume.Vertex{Position: b.world(px, py, pz), Normal: normal, Material: mat})
	}
	b.addTriangle(mat, [3]uint32{idx[0], idx[1], idx[2]})
	b.addTriangle(mat, [3]uint32{idx[0], idx[2], idx[3]})
}
