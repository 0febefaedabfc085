package surface

// Cell corners are numbered by their offset bits: x = c&1, y = c>>1&1,
// z = c>>2&1. Edges are numbered axis-major, four per axis, by their
// lower corner.

type cellEdge struct {
	base uint8 // lower corner
	axis uint8
}

var (
	edges    [12]cellEdge
	edgeOf   [8][8]int8
	triTable [256][]uint8
	// ambiguousFaces counts cell faces whose inside corners sit on a diagonal.
	ambiguousFaces [256]uint8
)

func init() {
	for a := range edgeOf {
		for b := range edgeOf[a] {
			edgeOf[a][b] = -1
		}
	}
	n := 0
	for axis := uint8(0); axis < 3; axis++ {
		for c := uint8(0); c < 8; c++ {
			if c&(1<<axis) != 0 {
				continue
			}
			edges[n] = cellEdge{base: c, axis: axis}
			edgeOf[c][c|1<<axis] = int8(n)
			edgeOf[c|1<<axis][c] = int8(n)
			n++
		}
	}
	for mask := 0; mask < 256; mask++ {
		triTable[mask], ambiguousFaces[mask] = buildCase(uint8(mask))
	}
}

// faceCorners lists a cell face's corners counter-clockwise about its
// outward normal (-axis for side 0, +axis for side 1).
func faceCorners(axis, side uint8) [4]uint8 {
	u, v := (axis+1)%3, (axis+2)%3
	at := func(a, b uint8) uint8 { return side<<axis | a<<u | b<<v }
	if side == 1 {
		return [4]uint8{at(0, 0), at(1, 0), at(1, 1), at(0, 1)}
	}
	return [4]uint8{at(0, 0), at(0, 1), at(1, 1), at(1, 0)}
}

// buildCase derives the triangles for one corner sign pattern by walking
// the cell faces. On each face the surface trace leaves the face through
// the first inside-to-outside crossing after it entered, so on a face
// with two diagonal inside corners each corner is cut off on its own.
// Neighboring cells see that face with the opposite winding and make the
// same cut, which keeps shared faces crack free.
//
// Each crossing edge is entered on one of its two faces and left on the
// other, so succ is a permutation of the crossing edges. Its cycles are
// the surface polygons, oriented counter-clockwise seen from outside.
func buildCase(mask uint8) ([]uint8, uint8) {
	inside := func(c uint8) bool { return mask&(1<<c) != 0 }

	var succ [12]int8
	for i := range succ {
		succ[i] = -1
	}
	var ambiguous uint8
	type crossing struct {
		edge  int8
		entry bool
	}
	for axis := uint8(0); axis < 3; axis++ {
		for side := uint8(0); side < 2; side++ {
			cs := faceCorners(axis, side)
			var xs []crossing
			for k := 0; k < 4; k++ {
				p, q := cs[k], cs[(k+1)%4]
				if inside(p) != inside(q) {
					xs = append(xs, crossing{edge: edgeOf[p][q], entry: inside(q)})
				}
			}
			if len(xs) == 4 {
				ambiguous++
			}
			for i, x := range xs {
				if !x.entry {
					continue
				}
				for j := 1; j < len(xs); j++ {
					if y := xs[(i+j)%len(xs)]; !y.entry {
						succ[x.edge] = y.edge
						break
					}
				}
			}
		}
	}

	var tris []uint8
	var seen [12]bool
	for start := int8(0); start < 12; start++ {
		if succ[start] < 0 || seen[start] {
			continue
		}
		var cycle []uint8
		for e := start; !seen[e]; e = succ[e] {
			seen[e] = true
			cycle = append(cycle, uint8(e))
		}
		for i := 1; i+1 < len(cycle); i++ {
			tris = append(tris, cycle[0], cycle[i], cycle[i+1])
		}
	}
	return tris, ambiguous
}
