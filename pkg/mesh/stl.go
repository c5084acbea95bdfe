package mesh

import (
	"encoding/binary"
	"io"
	"math"
)

// WriteSTL serializes m as a binary STL file, the format voxelctl's convert
// command writes to disk. Each triangle is written as a unit face normal
// computed from its three positions, followed by the three vertices. The
// per-vertex normals in m.Normals, the shared index buffer, and the
// bounding box are not written; the 80-byte header is all zeros.
func WriteSTL(w io.Writer, m *Mesh) error {
	var header [80]byte
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	triCount := uint32(m.TriangleCount())
	if err := binary.Write(w, binary.LittleEndian, triCount); err != nil {
		return err
	}

	for t := 0; t+2 < len(m.Indices); t += 3 {
		ia, ib, ic := m.Indices[t], m.Indices[t+1], m.Indices[t+2]
		a, b, c := m.Position(int(ia)), m.Position(int(ib)), m.Position(int(ic))
		n := faceNormal(a, b, c)

		if err := writeVec3(w, n); err != nil {
			return err
		}
		if err := writeVec3(w, a); err != nil {
			return err
		}
		if err := writeVec3(w, b); err != nil {
			return err
		}
		if err := writeVec3(w, c); err != nil {
			return err
		}
		if _, err := w.Write([]byte{0, 0}); err != nil {
			return err
		}
	}
	return nil
}

func writeVec3(w io.Writer, v [3]float32) error {
	for _, f := range v {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func faceNormal(a, b, c [3]float32) [3]float32 {
	ab := [3]float32{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
	ac := [3]float32{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
	n := [3]float32{
		ab[1]*ac[2] - ab[2]*ac[1],
		ab[2]*ac[0] - ab[0]*ac[2],
		ab[0]*ac[1] - ab[1]*ac[0],
	}
	mag := float32(math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])))
	if mag < 1e-12 {
		return n
	}
	return [3]float32{n[0] / mag, n[1] / mag, n[2] / mag}
}
