package annotation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jpfielding/dicom3d/pkg/annotation"
)

func TestValidateArrowRequiresEndpoint(t *testing.T) {
	a := &annotation.Annotation{Kind: annotation.Arrow}
	err := a.Validate(10)
	assert.Error(t, err)

	a.HasArrowTo = true
	a.ArrowTo = [3]float64{0.1, 0.1, 0.1}
	assert.NoError(t, a.Validate(10))
}

func TestValidateLabelRequiresText(t *testing.T) {
	a := &annotation.Annotation{Kind: annotation.Label}
	assert.Error(t, a.Validate(10))

	a.LabelText = "lesion"
	assert.NoError(t, a.Validate(10))
}

func TestValidateSliceIndexRange(t *testing.T) {
	a := &annotation.Annotation{Kind: annotation.Marker, HasSliceIndex: true, SliceIndex: 10}
	assert.Error(t, a.Validate(10))

	a.SliceIndex = 9
	assert.NoError(t, a.Validate(10))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "marker", annotation.Marker.String())
	assert.Equal(t, "arrow", annotation.Arrow.String())
	assert.Equal(t, "label", annotation.Label.String())
}

func TestNewIDIsUnique(t *testing.T) {
	assert.NotEqual(t, annotation.NewID(), annotation.NewID())
}
