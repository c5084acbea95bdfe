package mesh

import "math"

// Default Taubin smoothing parameters (spec.md §4.F): two iterations, each
// a positive (inward) pass followed by a negative (outward) pass, which
// removes per-cube staircasing while preserving volume within limits.
const (
	DefaultSmoothIterations = 2
	TaubinLambda            = 0.4
	TaubinMu                = -0.34
)

// PostProcess runs MeshPostProcess: Taubin smoothing followed by
// area-weighted normal recomputation.
func PostProcess(m *Mesh, iterations int) {
	Smooth(m, iterations, TaubinLambda, TaubinMu)
	RecomputeNormals(m)
}

// Smooth applies iterations passes of lambda/mu Taubin smoothing in place.
// Each vertex moves toward the average position of vertices sharing a
// triangle with it, each neighbor weighted by its edge-occurrence count;
// vertices with no neighbors are untouched.
func Smooth(m *Mesh, iterations int, lambda, mu float64) {
	v := m.VertexCount()
	if v == 0 {
		return
	}
	adjacency := buildAdjacency(m)

	for i := 0; i < iterations; i++ {
		taubinPass(m, adjacency, lambda)
		taubinPass(m, adjacency, mu)
	}
}

type neighborWeight struct {
	vertex int
	count  int
}

func buildAdjacency(m *Mesh) [][]neighborWeight {
	v := m.VertexCount()
	counts := make([]map[int]int, v)

	addEdge := func(a, b int) {
		if a >= v || b >= v || a < 0 || b < 0 {
			return
		}
		if counts[a] == nil {
			counts[a] = make(map[int]int)
		}
		counts[a][b]++
	}

	for t := 0; t+2 < len(m.Indices); t += 3 {
		a, b, c := int(m.Indices[t]), int(m.Indices[t+1]), int(m.Indices[t+2])
		if a >= v || b >= v || c >= v {
			continue
		}
		addEdge(a, b)
		addEdge(b, a)
		addEdge(b, c)
		addEdge(c, b)
		addEdge(c, a)
		addEdge(a, c)
	}

	adjacency := make([][]neighborWeight, v)
	for i, m := range counts {
		if m == nil {
			continue
		}
		list := make([]neighborWeight, 0, len(m))
		for n, cnt := range m {
			list = append(list, neighborWeight{vertex: n, count: cnt})
		}
		adjacency[i] = list
	}
	return adjacency
}

func taubinPass(m *Mesh, adjacency [][]neighborWeight, weight float64) {
	v := m.VertexCount()
	next := make([]float32, len(m.Positions))
	copy(next, m.Positions)

	for i := 0; i < v; i++ {
		neighbors := adjacency[i]
		if len(neighbors) == 0 {
			continue
		}
		var sum [3]float64
		totalWeight := 0
		for _, nb := range neighbors {
			p := m.Position(nb.vertex)
			sum[0] += float64(nb.count) * float64(p[0])
			sum[1] += float64(nb.count) * float64(p[1])
			sum[2] += float64(nb.count) * float64(p[2])
			totalWeight += nb.count
		}
		if totalWeight == 0 {
			continue
		}
		avg := [3]float64{sum[0] / float64(totalWeight), sum[1] / float64(totalWeight), sum[2] / float64(totalWeight)}
		cur := m.Position(i)
		next[3*i] = cur[0] + float32(weight*(avg[0]-float64(cur[0])))
		next[3*i+1] = cur[1] + float32(weight*(avg[1]-float64(cur[1])))
		next[3*i+2] = cur[2] + float32(weight*(avg[2]-float64(cur[2])))
	}

	copy(m.Positions, next)
}

// RecomputeNormals zeros and rebuilds per-vertex normals by accumulating
// unnormalized face normals over every triangle, then L2-normalizing; a
// vertex with no accumulated contribution defaults to (0,0,1).
func RecomputeNormals(m *Mesh) {
	v := m.VertexCount()
	accum := make([][3]float64, v)

	for t := 0; t+2 < len(m.Indices); t += 3 {
		ia, ib, ic := int(m.Indices[t]), int(m.Indices[t+1]), int(m.Indices[t+2])
		if ia >= v || ib >= v || ic >= v {
			continue
		}
		a, b, c := m.Position(ia), m.Position(ib), m.Position(ic)
		ab := [3]float64{float64(b[0] - a[0]), float64(b[1] - a[1]), float64(b[2] - a[2])}
		ac := [3]float64{float64(c[0] - a[0]), float64(c[1] - a[1]), float64(c[2] - a[2])}
		face := [3]float64{
			ab[1]*ac[2] - ab[2]*ac[1],
			ab[2]*ac[0] - ab[0]*ac[2],
			ab[0]*ac[1] - ab[1]*ac[0],
		}
		accum[ia][0] += face[0]
		accum[ia][1] += face[1]
		accum[ia][2] += face[2]
		accum[ib][0] += face[0]
		accum[ib][1] += face[1]
		accum[ib][2] += face[2]
		accum[ic][0] += face[0]
		accum[ic][1] += face[1]
		accum[ic][2] += face[2]
	}

	if cap(m.Normals) < 3*v {
		m.Normals = make([]float32, 3*v)
	} else {
		m.Normals = m.Normals[:3*v]
	}

	for i := 0; i < v; i++ {
		n := accum[i]
		mag := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
		if mag < 1e-12 {
			m.Normals[3*i] = 0
			m.Normals[3*i+1] = 0
			m.Normals[3*i+2] = 1
			continue
		}
		m.Normals[3*i] = float32(n[0] / mag)
		m.Normals[3*i+1] = float32(n[1] / mag)
		m.Normals[3*i+2] = float32(n[2] / mag)
	}
}
