package mesh_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/dicom3d/pkg/mesh"
)

func cubeVolumeField(w, h, d int) []float32 {
	field := make([]float32, w*h*d)
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dx := math.Abs(float64(x) - 7.5)
				dy := math.Abs(float64(y) - 7.5)
				dz := math.Abs(float64(z) - 7.5)
				m := math.Max(dx, math.Max(dy, dz))
				v := float32(0)
				if m <= 5 {
					v = 1
				}
				field[z*w*h+y*w+x] = v
			}
		}
	}
	return field
}

func cubeRequest() mesh.Request {
	return mesh.Request{
		Field:       cubeVolumeField(16, 16, 16),
		Dims:        [3]int{16, 16, 16},
		Spacing:     [3]float64{1, 1, 1},
		Origin:      [3]float64{0, 0, 0},
		Orientation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Min:         0,
		Max:         1,
	}
}

// S1: cube volume, surface extraction.
func TestExtractCubeVolume(t *testing.T) {
	req := cubeRequest()
	req.Iso = 0.5

	var progressValues []float64
	m, err := mesh.Extract(context.Background(), req, func(p float64) {
		progressValues = append(progressValues, p)
	})
	require.NoError(t, err)
	require.Greater(t, m.VertexCount(), 200)

	for _, ix := range m.Indices {
		assert.Less(t, int(ix), m.VertexCount())
	}

	for k := 0; k < 3; k++ {
		assert.GreaterOrEqual(t, m.BBoxMin[k], 2.0)
		assert.LessOrEqual(t, m.BBoxMin[k], 3.0)
		assert.GreaterOrEqual(t, m.BBoxMax[k], 13.0)
		assert.LessOrEqual(t, m.BBoxMax[k], 14.0)
	}

	require.NotEmpty(t, progressValues)
	assert.Equal(t, 1.0, progressValues[len(progressValues)-1])
	for i := 1; i < len(progressValues); i++ {
		assert.GreaterOrEqual(t, progressValues[i], progressValues[i-1])
	}
}

// S2: same volume, iso out of observed range.
func TestExtractIsoOutOfRange(t *testing.T) {
	req := cubeRequest()
	req.Iso = 2.0

	_, err := mesh.Extract(context.Background(), req, func(float64) {})
	require.Error(t, err)
	me, ok := err.(*mesh.Error)
	require.True(t, ok)
	assert.Equal(t, mesh.IsoOutOfRange, me.Kind)
}

func TestExtractDimensionTooSmall(t *testing.T) {
	req := cubeRequest()
	req.Dims = [3]int{1, 16, 16}
	req.Iso = 0.5

	_, err := mesh.Extract(context.Background(), req, func(float64) {})
	require.Error(t, err)
	me, ok := err.(*mesh.Error)
	require.True(t, ok)
	assert.Equal(t, mesh.DimensionTooSmall, me.Kind)
}

func TestExtractNonFiniteIso(t *testing.T) {
	req := cubeRequest()
	req.Iso = math.NaN()

	_, err := mesh.Extract(context.Background(), req, func(float64) {})
	require.Error(t, err)
	me, ok := err.(*mesh.Error)
	require.True(t, ok)
	assert.Equal(t, mesh.NonFiniteIso, me.Kind)
}

func TestExtractCancellation(t *testing.T) {
	req := cubeRequest()
	req.Iso = 0.5
	req.ChunkSize = 2

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mesh.Extract(ctx, req, func(float64) {})
	require.Error(t, err)
	me, ok := err.(*mesh.Error)
	require.True(t, ok)
	assert.Equal(t, mesh.Cancelled, me.Kind)
}

func TestPostProcessNormalsUnitLength(t *testing.T) {
	req := cubeRequest()
	req.Iso = 0.5

	m, err := mesh.Extract(context.Background(), req, func(float64) {})
	require.NoError(t, err)

	mesh.PostProcess(m, mesh.DefaultSmoothIterations)

	require.Equal(t, m.VertexCount()*3, len(m.Normals))
	for i := 0; i < m.VertexCount(); i++ {
		n := m.Normal(i)
		length := math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2]))
		assert.InDelta(t, 1.0, length, 1e-3)
	}
}
