// Package mesh implements MeshExtractor (spec.md §4.E) and MeshPostProcess
// (spec.md §4.F): chunked marching cubes over a calibrated scalar field,
// followed by Taubin smoothing and normal recomputation.
package mesh

// Mesh is a read-only, immutable-once-published triangle mesh in patient
// coordinates (spec.md §3).
type Mesh struct {
	// Positions is 3 floats per vertex.
	Positions []float32
	// Normals is 3 floats per vertex. Extract leaves them zeroed;
	// RecomputeNormals (run by PostProcess) makes each triple unit-length,
	// or (0,0,1) for vertices with no accumulated normal.
	Normals []float32
	// Indices is 3 uint32 per triangle.
	Indices []uint32

	BBoxMin [3]float64
	BBoxMax [3]float64
}

// VertexCount returns the number of vertices in the mesh.
func (m *Mesh) VertexCount() int {
	return len(m.Positions) / 3
}

// TriangleCount returns the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Position returns vertex i's position.
func (m *Mesh) Position(i int) [3]float32 {
	return [3]float32{m.Positions[3*i], m.Positions[3*i+1], m.Positions[3*i+2]}
}

// Normal returns vertex i's normal.
func (m *Mesh) Normal(i int) [3]float32 {
	return [3]float32{m.Normals[3*i], m.Normals[3*i+1], m.Normals[3*i+2]}
}
