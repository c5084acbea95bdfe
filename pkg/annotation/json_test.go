package annotation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/dicom3d/pkg/annotation"
	"github.com/jpfielding/dicom3d/pkg/series"
	"github.com/jpfielding/dicom3d/pkg/volume"
)

func testVolume() *volume.Volume {
	return &volume.Volume{
		Dims:        [3]int{10, 10, 10},
		Spacing:     [3]float64{1, 1, 1},
		Origin:      [3]float64{0, 0, 0},
		Orientation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

func testSeries() *series.Series {
	return &series.Series{
		PatientID:         "PAT001",
		StudyInstanceUID:  "1.2.3",
		SeriesInstanceUID: "1.2.3.4",
		Modality:          "CT",
		StudyDate:         "20260101",
	}
}

func TestJSONRoundTrip(t *testing.T) {
	marker := &annotation.Annotation{
		ID:        annotation.NewID(),
		Kind:      annotation.Marker,
		Position:  [3]float64{0.25, 0.5, 0.75},
		CreatedAt: time.Now(),
	}
	label := &annotation.Annotation{
		ID:         annotation.NewID(),
		Kind:       annotation.Label,
		Position:   [3]float64{0.1, 0.2, 0.3},
		LabelText:  "lesion",
		LinkedToID: marker.ID,
		CreatedAt:  time.Now(),
	}
	arrow := &annotation.Annotation{
		ID:         annotation.NewID(),
		Kind:       annotation.Arrow,
		Position:   [3]float64{0.1, 0.1, 0.5},
		HasArrowTo: true,
		ArrowTo:    [3]float64{0.4, 0.2, 0.5},
		CreatedAt:  time.Now(),
	}

	data, err := annotation.ExportJSON([]*annotation.Annotation{marker, label, arrow}, testSeries(), testVolume())
	require.NoError(t, err)

	imported, err := annotation.ImportJSON(data, 10)
	require.NoError(t, err)
	require.Len(t, imported, 3)

	assert.Equal(t, annotation.Marker, imported[0].Kind)
	assert.Equal(t, marker.Position, imported[0].Position)

	assert.Equal(t, annotation.Label, imported[1].Kind)
	assert.Equal(t, "lesion", imported[1].LabelText)
	assert.Equal(t, marker.ID, imported[1].LinkedToID)

	assert.Equal(t, annotation.Arrow, imported[2].Kind)
	assert.True(t, imported[2].HasArrowTo)
	assert.Equal(t, arrow.ArrowTo, imported[2].ArrowTo)
}

func TestImportJSONMalformed(t *testing.T) {
	_, err := annotation.ImportJSON([]byte("not json"), 10)
	require.Error(t, err)
	ae, ok := err.(*annotation.Error)
	require.True(t, ok)
	assert.Equal(t, annotation.MalformedReport, ae.Kind)
}

func TestImportJSONNoAnnotations(t *testing.T) {
	data, err := annotation.ExportJSON(nil, testSeries(), testVolume())
	require.NoError(t, err)

	_, err = annotation.ImportJSON(data, 10)
	require.Error(t, err)
	ae, ok := err.(*annotation.Error)
	require.True(t, ok)
	assert.Equal(t, annotation.NoAnnotationsFound, ae.Kind)
}

func TestImportJSONSliceIndexOutOfRange(t *testing.T) {
	a := &annotation.Annotation{
		ID:            annotation.NewID(),
		Kind:          annotation.Marker,
		Position:      [3]float64{0.1, 0.1, 0.1},
		HasSliceIndex: true,
		SliceIndex:    99,
		CreatedAt:     time.Now(),
	}
	data, err := annotation.ExportJSON([]*annotation.Annotation{a}, testSeries(), testVolume())
	require.NoError(t, err)

	_, err = annotation.ImportJSON(data, 10)
	require.Error(t, err)
	ae, ok := err.(*annotation.Error)
	require.True(t, ok)
	assert.Equal(t, annotation.MalformedReport, ae.Kind)
}
