package main

import (
	"bufio"
	"fmt"
	"io"

	"voxelterrain.ai/internal/terrain/volume"
)

// WriteOBJ writes meshes as one Wavefront OBJ object per chunk, with a
// usemtl group per material section. It returns the triangle count.
func WriteOBJ(w io.Writer, meshes []*volume.Mesh) (int, error) {
	bw := bufio.NewWriter(w)
	base := 1
	tris := 0
	for _, m := range meshes {
		if m.Empty() {
			continue
		}
		fmt.Fprintf(bw, "o chunk_%d_%d_%d\n", m.Key.X, m.Key.Y, m.Key.Z)
		for _, v := range m.Vertices {
			fmt.Fprintf(bw, "v %g %g %g\n", v.Position[0], v.Position[1], v.Position[2])
		}
		for _, v := range m.Vertices {
			fmt.Fprintf(bw, "vn %g %g %g\n", v.Normal[0], v.Normal[1], v.Normal[2])
		}
		for _, sec := range m.Sections {
			fmt.Fprintf(bw, "usemtl %s\n", sec.Material)
			for _, t := range m.Triangles[sec.FirstTriangle : sec.FirstTriangle+sec.TriangleCount] {
				a, b, c := base+int(t[0]), base+int(t[1]), base+int(t[2])
				fmt.Fprintf(bw, "f %d//%d %d//%d %d//%d\n", a, a, b, b, c, c)
			}
			tris += sec.TriangleCount
		}
		base += len(m.Vertices)
	}
	return tris, bw.Flush()
}
