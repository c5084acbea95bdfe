// Package annotation implements AnnotationCodec (spec.md §4.G): a flat,
// linkable record type plus JSON and DICOM Comprehensive 3D SR
// export/import surfaces built on pkg/volume's GeometryMap.
package annotation

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags an Annotation's role (spec.md §3).
type Kind int

const (
	Marker Kind = iota
	Arrow
	Label
)

func (k Kind) String() string {
	switch k {
	case Marker:
		return "marker"
	case Arrow:
		return "arrow"
	case Label:
		return "label"
	default:
		return "unknown"
	}
}

// Annotation is a tagged record in normalized volume coordinates. Per
// spec.md §9's Design Notes, annotations form a shallow graph resolved by
// string id rather than pointer. The JSON envelope carries ID and
// LinkedToID; the SR surface does not, and ImportSR assigns fresh IDs.
type Annotation struct {
	ID       string
	Kind     Kind
	Position [3]float64

	HasArrowTo bool
	ArrowTo    [3]float64

	HasSliceIndex bool
	SliceIndex    int

	LabelText string

	LinkedToID string

	CreatedAt time.Time
}

// NewID returns a fresh annotation identifier.
func NewID() string {
	return uuid.New().String()
}

// Validate enforces the invariants of spec.md §3: an Arrow has a non-null
// endpoint, a Label has non-empty text, and a present slice index lies in
// [0, depth).
func (a *Annotation) Validate(depth int) error {
	if a.Kind == Arrow && !a.HasArrowTo {
		return newErr(MalformedReport, "arrow annotation missing endpoint")
	}
	if a.Kind == Label && a.LabelText == "" {
		return newErr(MalformedReport, "label annotation missing text")
	}
	if a.HasSliceIndex && (a.SliceIndex < 0 || a.SliceIndex >= depth) {
		return newErr(MalformedReport, "slice index out of range")
	}
	return nil
}
