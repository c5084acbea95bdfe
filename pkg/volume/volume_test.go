package volume_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/dicom3d/pkg/dicom"
	"github.com/jpfielding/dicom3d/pkg/series"
	"github.com/jpfielding/dicom3d/pkg/volume"
)

func le16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

// S4: one 16-bit unsigned 4x4 slice ranging 0..1000, slope 1, intercept
// -500, window center 0 width 200.
func TestBuildRescaleAndWindow(t *testing.T) {
	vals := []uint16{0, 100, 500, 1000, 0, 100, 500, 1000, 0, 100, 500, 1000, 0, 100, 500, 1000}
	buf := make([]byte, 0, len(vals)*2)
	for _, v := range vals {
		buf = append(buf, le16(v)...)
	}

	sl := &dicom.RawSlice{
		Rows: 4, Columns: 4, BitsAllocated: 16,
		Samples:          buf,
		RescaleSlope:     1,
		RescaleIntercept: -500,
		HasWindow:        true,
		WindowCenter:     0,
		WindowWidth:      200,
		HasOrientation:   true,
		Orientation:      [6]float64{1, 0, 0, 0, 1, 0},
	}

	s, err := series.Assemble([]*dicom.RawSlice{sl})
	require.NoError(t, err)

	vol, err := volume.Build(s)
	require.NoError(t, err)

	for _, f := range vol.Field {
		assert.GreaterOrEqual(t, float64(f), -500.0)
		assert.LessOrEqual(t, float64(f), 500.0)
	}

	frame := vol.Display[0]
	// calibrated values: -500, -400, 0, 500 repeating.
	// window [-100, 100]: <= -100 -> 0, >= 100 -> 255, linear in between.
	assert.Equal(t, byte(0), frame[0])   // -500
	assert.Equal(t, byte(0), frame[1])   // -400
	assert.Equal(t, byte(128), frame[2]) // 0: midway through [-100,100]
	assert.Equal(t, byte(255), frame[3]) // 500 -> clamp high
}

func TestBuildIndexLayout(t *testing.T) {
	sl1 := &dicom.RawSlice{
		Rows: 2, Columns: 2, BitsAllocated: 8,
		Samples: []byte{1, 2, 3, 4}, RescaleSlope: 1, RescaleIntercept: 0,
		HasOrientation: true, Orientation: [6]float64{1, 0, 0, 0, 1, 0},
		HasPosition: true, Position: [3]float64{0, 0, 0},
	}
	sl2 := &dicom.RawSlice{
		Rows: 2, Columns: 2, BitsAllocated: 8,
		Samples: []byte{5, 6, 7, 8}, RescaleSlope: 1, RescaleIntercept: 0,
		HasOrientation: true, Orientation: [6]float64{1, 0, 0, 0, 1, 0},
		HasPosition: true, Position: [3]float64{0, 0, 1},
	}

	s, err := series.Assemble([]*dicom.RawSlice{sl1, sl2})
	require.NoError(t, err)

	vol, err := volume.Build(s)
	require.NoError(t, err)

	assert.Equal(t, float32(1), vol.Field[vol.Index(0, 0, 0)])
	assert.Equal(t, float32(8), vol.Field[vol.Index(1, 1, 1)])
}

func TestBuildJPEGDecodedSkipsCalibration(t *testing.T) {
	sl := &dicom.RawSlice{
		Rows: 2, Columns: 2, BitsAllocated: 8,
		Samples: []byte{10, 20, 30, 40}, RescaleSlope: 99, RescaleIntercept: 99,
		JPEGDecoded:    true,
		HasOrientation: true, Orientation: [6]float64{1, 0, 0, 0, 1, 0},
	}

	s, err := series.Assemble([]*dicom.RawSlice{sl})
	require.NoError(t, err)

	vol, err := volume.Build(s)
	require.NoError(t, err)

	assert.Equal(t, float32(10), vol.Field[0])
	assert.True(t, vol.Uncalibrated[0])
}

// S5: GeometryMap round trip.
func TestGeometryMapRoundTrip(t *testing.T) {
	m := volume.NewMap(
		[3]int{16, 16, 16},
		[3]float64{0.5, 0.75, 2.0},
		[3]float64{10, 20, 30},
		[9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	)

	patient := m.VoxelToPatient([3]float64{2, 4, 8})
	assert.InDelta(t, 11.0, patient[0], 1e-9)
	assert.InDelta(t, 23.0, patient[1], 1e-9)
	assert.InDelta(t, 46.0, patient[2], 1e-9)

	back, err := m.PatientToVoxel(patient)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, back[0], 1e-6)
	assert.InDelta(t, 4.0, back[1], 1e-6)
	assert.InDelta(t, 8.0, back[2], 1e-6)
}

func TestGeometryMapSingularOrientation(t *testing.T) {
	m := volume.NewMap(
		[3]int{4, 4, 4},
		[3]float64{1, 1, 1},
		[3]float64{0, 0, 0},
		[9]float64{1, 0, 0, 1, 0, 0, 1, 0, 0},
	)
	_, err := m.PatientToVoxel([3]float64{1, 1, 1})
	require.Error(t, err)
}

func TestOtsuDegenerateRangeYieldsMidpoint(t *testing.T) {
	sl := &dicom.RawSlice{
		Rows: 2, Columns: 2, BitsAllocated: 8,
		Samples: []byte{5, 5, 5, 5}, RescaleSlope: 1, RescaleIntercept: 0,
		HasOrientation: true, Orientation: [6]float64{1, 0, 0, 0, 1, 0},
	}
	s, err := series.Assemble([]*dicom.RawSlice{sl})
	require.NoError(t, err)

	vol, err := volume.Build(s)
	require.NoError(t, err)

	assert.True(t, vol.AutoIsoDegenerate)
	assert.InDelta(t, 5.0, vol.AutoIso, 1e-9)
}

func TestOtsuReproducible(t *testing.T) {
	sl := &dicom.RawSlice{
		Rows: 4, Columns: 4, BitsAllocated: 8,
		Samples: []byte{
			0, 0, 0, 0,
			0, 0, 0, 0,
			255, 255, 255, 255,
			255, 255, 255, 255,
		},
		RescaleSlope: 1, RescaleIntercept: 0,
		HasOrientation: true, Orientation: [6]float64{1, 0, 0, 0, 1, 0},
	}
	s, err := series.Assemble([]*dicom.RawSlice{sl})
	require.NoError(t, err)

	v1, err := volume.Build(s)
	require.NoError(t, err)
	v2, err := volume.Build(s)
	require.NoError(t, err)

	assert.Equal(t, v1.AutoIso, v2.AutoIso)
}
