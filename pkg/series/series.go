// Package series implements SeriesAssembler (spec.md §4.B): ordering a set
// of parsed DICOM slices into a geometrically consistent Series and deriving
// its spacing.
package series

import (
	"math"
	"sort"

	"github.com/jpfielding/dicom3d/pkg/dicom"
)

// Dims holds the voxel-grid dimensions of an assembled Series.
type Dims struct {
	Cols, Rows, Depth int
}

// Series is an ordered sequence of slices plus the derived geometry and
// study-level identifiers spec.md §3 requires.
type Series struct {
	Slices []*dicom.RawSlice

	Origin      [3]float64 // image-position-patient of slice 0
	Orientation [6]float64 // row-dir, col-dir
	Spacing     [3]float64 // sx, sy, sz in mm
	Dims        Dims

	// Approximate is true when no slice carried orientation, so the
	// assembler emitted an identity orientation and downstream patient
	// coordinates are approximate (spec.md §4.B).
	Approximate bool

	PatientID           string
	StudyInstanceUID    string
	SeriesInstanceUID   string
	FrameOfReferenceUID string
	Modality            string
	StudyDate           string
}

const orientationTolerance = 1e-5

// Assemble orders slices and derives Series geometry, or returns a
// structured *Error.
func Assemble(slices []*dicom.RawSlice) (*Series, error) {
	if len(slices) == 0 {
		return nil, newErr(EmptySeries, "")
	}

	if err := checkConsistency(slices); err != nil {
		return nil, err
	}

	ordered := sortSlices(slices)

	s := &Series{
		Slices: ordered,
		Dims: Dims{
			Cols:  ordered[0].Columns,
			Rows:  ordered[0].Rows,
			Depth: len(ordered),
		},
	}

	first := ordered[0]
	if first.HasPosition {
		s.Origin = first.Position
	}

	orientationSlice, hasOrientation := firstWithOrientation(ordered)
	if hasOrientation {
		s.Orientation = orientationSlice.Orientation
	} else {
		s.Orientation = [6]float64{1, 0, 0, 0, 1, 0}
		s.Approximate = true
	}

	s.Spacing[0] = 1 // sx default
	s.Spacing[1] = 1 // sy default
	if first.HasPixelSpacing {
		s.Spacing[0] = first.SpacingCol
		s.Spacing[1] = first.SpacingRow
	}
	s.Spacing[2] = deriveSliceSpacing(ordered, s.Orientation)

	for _, sl := range ordered {
		if s.PatientID == "" && sl.PatientID != "" {
			s.PatientID = sl.PatientID
		}
		if s.StudyInstanceUID == "" && sl.StudyInstanceUID != "" {
			s.StudyInstanceUID = sl.StudyInstanceUID
		}
		if s.SeriesInstanceUID == "" && sl.SeriesInstanceUID != "" {
			s.SeriesInstanceUID = sl.SeriesInstanceUID
		}
		if s.FrameOfReferenceUID == "" && sl.FrameOfReferenceUID != "" {
			s.FrameOfReferenceUID = sl.FrameOfReferenceUID
		}
		if s.Modality == "" && sl.Modality != "" {
			s.Modality = sl.Modality
		}
		if s.StudyDate == "" && sl.StudyDate != "" {
			s.StudyDate = sl.StudyDate
		}
	}

	return s, nil
}

func checkConsistency(slices []*dicom.RawSlice) error {
	first := slices[0]
	var orientationRef *[6]float64
	if first.HasOrientation {
		orientationRef = &first.Orientation
	}

	for i, sl := range slices[1:] {
		if sl.Rows != first.Rows || sl.Columns != first.Columns {
			return newErr(InconsistentSeries, dimsMismatch(i+1, first, sl))
		}
		if sl.BitsAllocated != first.BitsAllocated {
			return newErr(InconsistentSeries, "bits-per-sample mismatch")
		}
		if sl.Signed != first.Signed {
			return newErr(InconsistentSeries, "signedness mismatch")
		}
		if sl.HasOrientation {
			if orientationRef == nil {
				orientationRef = &sl.Orientation
			} else if !orientationClose(*orientationRef, sl.Orientation) {
				return newErr(InconsistentSeries, "orientation mismatch across slices")
			}
		}
	}
	return nil
}

func dimsMismatch(i int, first, sl *dicom.RawSlice) string {
	return "rows/columns mismatch at slice " + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func orientationClose(a, b [6]float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > orientationTolerance {
			return false
		}
	}
	return true
}

func firstWithOrientation(slices []*dicom.RawSlice) (*dicom.RawSlice, bool) {
	for _, sl := range slices {
		if sl.HasOrientation {
			return sl, true
		}
	}
	return nil, false
}

// sortSlices orders ascending primarily by image-position-patient z, ties
// broken by instance number; slices missing both signals retain insertion
// order (spec.md §4.B).
func sortSlices(slices []*dicom.RawSlice) []*dicom.RawSlice {
	idx := make([]int, len(slices))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		si, sj := slices[i], slices[j]
		if si.HasPosition && sj.HasPosition && si.Position[2] != sj.Position[2] {
			return si.Position[2] < sj.Position[2]
		}
		if si.HasInstanceNumber && sj.HasInstanceNumber && si.InstanceNumber != sj.InstanceNumber {
			return si.InstanceNumber < sj.InstanceNumber
		}
		return false
	})
	out := make([]*dicom.RawSlice, len(slices))
	for i, j := range idx {
		out[i] = slices[j]
	}
	return out
}

// deriveSliceSpacing computes sz per spec.md §4.B.
func deriveSliceSpacing(ordered []*dicom.RawSlice, orientation [6]float64) float64 {
	if len(ordered) < 2 {
		return 1
	}
	a, b := ordered[0], ordered[1]
	if !a.HasPosition || !b.HasPosition {
		return 1
	}
	delta := [3]float64{
		b.Position[0] - a.Position[0],
		b.Position[1] - a.Position[1],
		b.Position[2] - a.Position[2],
	}
	rowDir := [3]float64{orientation[0], orientation[1], orientation[2]}
	colDir := [3]float64{orientation[3], orientation[4], orientation[5]}
	normal := cross(rowDir, colDir)
	normal = normalize(normal)

	proj := math.Abs(dot(delta, normal))
	if proj > 1e-6 {
		return proj
	}
	mag := math.Sqrt(dot(delta, delta))
	if mag > 0 {
		return mag
	}
	return 1
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func normalize(v [3]float64) [3]float64 {
	n := math.Sqrt(dot(v, v))
	if n == 0 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}
