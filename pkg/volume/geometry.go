package volume

import "math"

// Map is GeometryMap (spec.md §4.D): a pure bidirectional mapping between
// normalized [0,1]^3, voxel, and patient coordinates. It is the single
// source of truth for coordinate interchange consumed by MeshExtractor and
// AnnotationCodec (MeshPostProcess works on patient-space positions only).
type Map struct {
	Dims      [3]int
	Spacing   [3]float64
	Origin    [3]float64
	RowDir    [3]float64
	ColDir    [3]float64
	SliceNorm [3]float64
}

// NewMap builds a Map from a Volume's geometry.
func NewMap(dims [3]int, spacing, origin [3]float64, orientation [9]float64) *Map {
	return &Map{
		Dims:      dims,
		Spacing:   spacing,
		Origin:    origin,
		RowDir:    [3]float64{orientation[0], orientation[1], orientation[2]},
		ColDir:    [3]float64{orientation[3], orientation[4], orientation[5]},
		SliceNorm: [3]float64{orientation[6], orientation[7], orientation[8]},
	}
}

// NormalizedToVoxel multiplies the normalized coordinate by (dim-1) per axis.
func (m *Map) NormalizedToVoxel(n [3]float64) [3]float64 {
	var v [3]float64
	for i := 0; i < 3; i++ {
		v[i] = n[i] * float64(m.Dims[i]-1)
	}
	return v
}

// VoxelToNormalized divides by (dim-1) per axis, guarding dim==1 to yield 0.
func (m *Map) VoxelToNormalized(v [3]float64) [3]float64 {
	var n [3]float64
	for i := 0; i < 3; i++ {
		if m.Dims[i] <= 1 {
			n[i] = 0
			continue
		}
		n[i] = v[i] / float64(m.Dims[i]-1)
	}
	return n
}

// VoxelToPatient scales by spacing, applies the orientation matrix (columns
// row-dir, col-dir, slice-normal), and adds origin.
func (m *Map) VoxelToPatient(v [3]float64) [3]float64 {
	sx, sy, sz := v[0]*m.Spacing[0], v[1]*m.Spacing[1], v[2]*m.Spacing[2]
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = m.Origin[r] + sx*m.RowDir[r] + sy*m.ColDir[r] + sz*m.SliceNorm[r]
	}
	return p
}

// PatientToVoxel subtracts origin, applies the matrix inverse (via
// cofactors; fails if |det| < 1e-8), and divides by spacing.
func (m *Map) PatientToVoxel(p [3]float64) ([3]float64, error) {
	mat := [3][3]float64{
		{m.RowDir[0], m.ColDir[0], m.SliceNorm[0]},
		{m.RowDir[1], m.ColDir[1], m.SliceNorm[1]},
		{m.RowDir[2], m.ColDir[2], m.SliceNorm[2]},
	}
	inv, err := invert3x3(mat)
	if err != nil {
		return [3]float64{}, err
	}

	rel := [3]float64{p[0] - m.Origin[0], p[1] - m.Origin[1], p[2] - m.Origin[2]}
	scaled := [3]float64{
		inv[0][0]*rel[0] + inv[0][1]*rel[1] + inv[0][2]*rel[2],
		inv[1][0]*rel[0] + inv[1][1]*rel[1] + inv[1][2]*rel[2],
		inv[2][0]*rel[0] + inv[2][1]*rel[1] + inv[2][2]*rel[2],
	}

	return [3]float64{
		scaled[0] / m.Spacing[0],
		scaled[1] / m.Spacing[1],
		scaled[2] / m.Spacing[2],
	}, nil
}

func invert3x3(a [3][3]float64) ([3][3]float64, error) {
	det := a[0][0]*(a[1][1]*a[2][2]-a[1][2]*a[2][1]) -
		a[0][1]*(a[1][0]*a[2][2]-a[1][2]*a[2][0]) +
		a[0][2]*(a[1][0]*a[2][1]-a[1][1]*a[2][0])

	if math.Abs(det) < 1e-8 {
		return [3][3]float64{}, newErr(SingularOrientation, "orientation matrix determinant near zero")
	}

	invDet := 1 / det
	var inv [3][3]float64
	inv[0][0] = (a[1][1]*a[2][2] - a[1][2]*a[2][1]) * invDet
	inv[0][1] = (a[0][2]*a[2][1] - a[0][1]*a[2][2]) * invDet
	inv[0][2] = (a[0][1]*a[1][2] - a[0][2]*a[1][1]) * invDet
	inv[1][0] = (a[1][2]*a[2][0] - a[1][0]*a[2][2]) * invDet
	inv[1][1] = (a[0][0]*a[2][2] - a[0][2]*a[2][0]) * invDet
	inv[1][2] = (a[0][2]*a[1][0] - a[0][0]*a[1][2]) * invDet
	inv[2][0] = (a[1][0]*a[2][1] - a[1][1]*a[2][0]) * invDet
	inv[2][1] = (a[0][1]*a[2][0] - a[0][0]*a[2][1]) * invDet
	inv[2][2] = (a[0][0]*a[1][1] - a[0][1]*a[1][0]) * invDet
	return inv, nil
}

// SliceNormal returns the normalized cross product of rowDir and colDir.
func SliceNormal(rowDir, colDir [3]float64) [3]float64 {
	n := [3]float64{
		rowDir[1]*colDir[2] - rowDir[2]*colDir[1],
		rowDir[2]*colDir[0] - rowDir[0]*colDir[2],
		rowDir[0]*colDir[1] - rowDir[1]*colDir[0],
	}
	mag := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
	if mag == 0 {
		return n
	}
	return [3]float64{n[0] / mag, n[1] / mag, n[2] / mag}
}
