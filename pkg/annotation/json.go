package annotation

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jpfielding/dicom3d/pkg/series"
	"github.com/jpfielding/dicom3d/pkg/volume"
)

const schemaVersion = "1.0"

var jsonValidate = validator.New()

type studyEnvelope struct {
	PatientID         string `json:"patientId,omitempty"`
	StudyInstanceUID  string `json:"studyInstanceUID,omitempty"`
	SeriesInstanceUID string `json:"seriesInstanceUID,omitempty"`
	Modality          string `json:"modality,omitempty"`
	StudyDate         string `json:"studyDate,omitempty"`
}

type volumeEnvelope struct {
	Dimensions  [3]int     `json:"dimensions"`
	Spacing     [3]float64 `json:"spacing"`
	Origin      [3]float64 `json:"origin"`
	Orientation [9]float64 `json:"orientation"`
}

type annotationEnvelope struct {
	ID         string     `json:"id" validate:"required"`
	Type       string     `json:"type" validate:"required,oneof=marker arrow label"`
	Position   [3]float64 `json:"position"`
	ArrowTo    *[3]float64 `json:"arrowTo,omitempty"`
	SliceIndex *int       `json:"sliceIndex,omitempty"`
	LabelText  string     `json:"labelText,omitempty"`
	LinkedToID string     `json:"linkedToId,omitempty"`
	CreatedAt  string     `json:"createdAt" validate:"required"`
}

type reportEnvelope struct {
	Version     string               `json:"version" validate:"required"`
	Study       studyEnvelope        `json:"study"`
	Volume      volumeEnvelope       `json:"volume"`
	Annotations []annotationEnvelope `json:"annotations" validate:"dive"`
	ExportedAt  string               `json:"exportedAt" validate:"required"`
}

// ExportJSON serializes annotations plus study and volume metadata into the
// JSON envelope of spec.md §6. It is lossless: every Annotation field round
// trips exactly, except that CreatedAt comes back in UTC (the same instant,
// to the nanosecond).
func ExportJSON(annotations []*Annotation, s *series.Series, vol *volume.Volume) ([]byte, error) {
	env := reportEnvelope{
		Version: schemaVersion,
		Study: studyEnvelope{
			PatientID:         s.PatientID,
			StudyInstanceUID:  s.StudyInstanceUID,
			SeriesInstanceUID: s.SeriesInstanceUID,
			Modality:          s.Modality,
			StudyDate:         s.StudyDate,
		},
		Volume: volumeEnvelope{
			Dimensions:  vol.Dims,
			Spacing:     vol.Spacing,
			Origin:      vol.Origin,
			Orientation: vol.Orientation,
		},
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
	}

	for _, a := range annotations {
		e := annotationEnvelope{
			ID:        a.ID,
			Type:      a.Kind.String(),
			Position:  a.Position,
			LabelText: a.LabelText,
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if a.HasArrowTo {
			arrowTo := a.ArrowTo
			e.ArrowTo = &arrowTo
		}
		if a.HasSliceIndex {
			idx := a.SliceIndex
			e.SliceIndex = &idx
		}
		if a.LinkedToID != "" {
			e.LinkedToID = a.LinkedToID
		}
		env.Annotations = append(env.Annotations, e)
	}

	return json.MarshalIndent(env, "", "  ")
}

// ImportJSON parses the envelope produced by ExportJSON, validating schema
// shape and each annotation's invariants against depth (the volume's slice
// count).
func ImportJSON(data []byte, depth int) ([]*Annotation, error) {
	var env reportEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newErr(MalformedReport, err.Error())
	}
	if err := jsonValidate.Struct(env); err != nil {
		return nil, newErr(MalformedReport, err.Error())
	}
	if len(env.Annotations) == 0 {
		return nil, newErr(NoAnnotationsFound, "")
	}

	out := make([]*Annotation, 0, len(env.Annotations))
	for _, e := range env.Annotations {
		a := &Annotation{
			ID:         e.ID,
			Position:   e.Position,
			LabelText:  e.LabelText,
			LinkedToID: e.LinkedToID,
		}
		switch e.Type {
		case "marker":
			a.Kind = Marker
		case "arrow":
			a.Kind = Arrow
		case "label":
			a.Kind = Label
		default:
			return nil, newErr(MalformedReport, "unrecognized annotation type "+e.Type)
		}
		if e.ArrowTo != nil {
			a.HasArrowTo = true
			a.ArrowTo = *e.ArrowTo
		}
		if e.SliceIndex != nil {
			a.HasSliceIndex = true
			a.SliceIndex = *e.SliceIndex
		}
		if t, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
			a.CreatedAt = t
		}
		if err := a.Validate(depth); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
