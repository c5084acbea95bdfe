package series_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/dicom3d/pkg/dicom"
	"github.com/jpfielding/dicom3d/pkg/series"
)

func makeSlice(z, instance int, rows, cols int) *dicom.RawSlice {
	return &dicom.RawSlice{
		Rows:              rows,
		Columns:           cols,
		BitsAllocated:     8,
		Samples:           make([]byte, rows*cols),
		HasPosition:       true,
		Position:          [3]float64{0, 0, float64(z)},
		HasOrientation:    true,
		Orientation:       [6]float64{1, 0, 0, 0, 1, 0},
		HasPixelSpacing:   true,
		SpacingRow:        0.5,
		SpacingCol:        0.6,
		HasInstanceNumber: true,
		InstanceNumber:    instance,
	}
}

func TestAssembleEmptySeries(t *testing.T) {
	_, err := series.Assemble(nil)
	require.Error(t, err)
	se, ok := err.(*series.Error)
	require.True(t, ok)
	assert.Equal(t, series.EmptySeries, se.Kind)
}

// S3: three slices at z in {5.0, 1.0, 3.0}, pixel spacing (0.5, 0.6); the
// assembler must sort by z, derive sz=2.0, and report spacing (0.6, 0.5, 2.0).
func TestAssembleSortsAndDerivesSpacing(t *testing.T) {
	slices := []*dicom.RawSlice{
		makeSlice(5, 3, 8, 8),
		makeSlice(1, 1, 8, 8),
		makeSlice(3, 2, 8, 8),
	}

	s, err := series.Assemble(slices)
	require.NoError(t, err)

	require.Equal(t, 3, s.Dims.Depth)
	assert.Equal(t, 8, s.Dims.Cols)
	assert.Equal(t, 8, s.Dims.Rows)

	assert.Equal(t, 1.0, s.Slices[0].Position[2])
	assert.Equal(t, 3.0, s.Slices[1].Position[2])
	assert.Equal(t, 5.0, s.Slices[2].Position[2])

	assert.InDelta(t, 0.6, s.Spacing[0], 1e-9)
	assert.InDelta(t, 0.5, s.Spacing[1], 1e-9)
	assert.InDelta(t, 2.0, s.Spacing[2], 1e-9)

	assert.False(t, s.Approximate)
}

func TestAssembleSingleSliceDefaultsSpacing(t *testing.T) {
	s, err := series.Assemble([]*dicom.RawSlice{makeSlice(0, 1, 4, 4)})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Dims.Depth)
	assert.InDelta(t, 1.0, s.Spacing[2], 1e-9)
}

func TestAssembleMissingOrientationIsApproximate(t *testing.T) {
	a := makeSlice(0, 1, 4, 4)
	a.HasOrientation = false
	b := makeSlice(1, 2, 4, 4)
	b.HasOrientation = false

	s, err := series.Assemble([]*dicom.RawSlice{a, b})
	require.NoError(t, err)
	assert.True(t, s.Approximate)
	assert.Equal(t, [6]float64{1, 0, 0, 0, 1, 0}, s.Orientation)
}

func TestAssembleInconsistentDimensions(t *testing.T) {
	a := makeSlice(0, 1, 4, 4)
	b := makeSlice(1, 2, 8, 8)

	_, err := series.Assemble([]*dicom.RawSlice{a, b})
	require.Error(t, err)
	se, ok := err.(*series.Error)
	require.True(t, ok)
	assert.Equal(t, series.InconsistentSeries, se.Kind)
}

func TestAssembleInconsistentOrientation(t *testing.T) {
	a := makeSlice(0, 1, 4, 4)
	b := makeSlice(1, 2, 4, 4)
	b.Orientation = [6]float64{0, 1, 0, 1, 0, 0}

	_, err := series.Assemble([]*dicom.RawSlice{a, b})
	require.Error(t, err)
	se, ok := err.(*series.Error)
	require.True(t, ok)
	assert.Equal(t, series.InconsistentSeries, se.Kind)
}

func TestAssembleTiesBreakOnInstanceNumber(t *testing.T) {
	a := makeSlice(2, 2, 4, 4)
	b := makeSlice(2, 1, 4, 4)

	s, err := series.Assemble([]*dicom.RawSlice{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Slices[0].InstanceNumber)
	assert.Equal(t, 2, s.Slices[1].InstanceNumber)
}

func TestAssembleStudyMetadataFromFirstPresent(t *testing.T) {
	a := makeSlice(0, 1, 4, 4)
	b := makeSlice(1, 2, 4, 4)
	b.PatientID = "PAT-1"
	b.Modality = "CT"

	s, err := series.Assemble([]*dicom.RawSlice{a, b})
	require.NoError(t, err)
	assert.Equal(t, "PAT-1", s.PatientID)
	assert.Equal(t, "CT", s.Modality)
}
