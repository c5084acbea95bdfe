package annotation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/dicom3d/pkg/annotation"
)

// S6: SR round trip.
func TestExportImportSRRoundTrip(t *testing.T) {
	vol := testVolume()
	s := testSeries()

	marker := &annotation.Annotation{
		ID:        annotation.NewID(),
		Kind:      annotation.Label,
		Position:  [3]float64{0.25, 0.5, 0.75},
		LabelText: "lesion",
		CreatedAt: time.Now(),
	}
	arrow := &annotation.Annotation{
		ID:         annotation.NewID(),
		Kind:       annotation.Arrow,
		Position:   [3]float64{0.1, 0.1, 0.5},
		HasArrowTo: true,
		ArrowTo:    [3]float64{0.4, 0.2, 0.5},
		CreatedAt:  time.Now(),
	}

	data, err := annotation.ExportSR([]*annotation.Annotation{marker, arrow}, s, vol)
	require.NoError(t, err)

	imported, err := annotation.ImportSR(data, vol, s)
	require.NoError(t, err)
	require.Len(t, imported, 2)

	assert.Equal(t, annotation.Label, imported[0].Kind)
	assert.Equal(t, "lesion", imported[0].LabelText)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, marker.Position[i], imported[0].Position[i], 1e-4)
	}

	assert.Equal(t, annotation.Arrow, imported[1].Kind)
	require.True(t, imported[1].HasArrowTo)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, arrow.Position[i], imported[1].Position[i], 1e-4)
		assert.InDelta(t, arrow.ArrowTo[i], imported[1].ArrowTo[i], 1e-4)
	}
}

func TestImportSRNoVolumeLoaded(t *testing.T) {
	_, err := annotation.ImportSR([]byte{}, nil, nil)
	require.Error(t, err)
	ae, ok := err.(*annotation.Error)
	require.True(t, ok)
	assert.Equal(t, annotation.NoVolumeLoaded, ae.Kind)
}

func TestImportSRMalformed(t *testing.T) {
	_, err := annotation.ImportSR([]byte("not a dicom stream"), testVolume(), nil)
	require.Error(t, err)
	ae, ok := err.(*annotation.Error)
	require.True(t, ok)
	assert.Equal(t, annotation.MalformedReport, ae.Kind)
}

func TestExportSRNoAnnotationsThenImportFails(t *testing.T) {
	vol := testVolume()
	s := testSeries()

	data, err := annotation.ExportSR(nil, s, vol)
	require.NoError(t, err)

	_, err = annotation.ImportSR(data, vol, s)
	require.Error(t, err)
	ae, ok := err.(*annotation.Error)
	require.True(t, ok)
	assert.Equal(t, annotation.NoAnnotationsFound, ae.Kind)
}
