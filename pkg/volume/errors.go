package volume

import "fmt"

// Kind enumerates VolumeBuilder/GeometryMap failure modes. Only
// SingularOrientation is ever returned as an error from this package's pure
// functions — volume construction itself never fails for numerically valid
// input (spec.md §7); EmptyRange instead surfaces as Volume.AutoIsoDegenerate.
type Kind int

const (
	// EmptyRange marks a degenerate scalar field (min >= max); Build still
	// produces a Volume and records the degenerate auto-iso rather than
	// failing.
	EmptyRange Kind = iota
	// SingularOrientation means the orientation matrix's determinant has
	// magnitude below 1e-8 and cannot be inverted for patient<->voxel
	// conversion.
	SingularOrientation
)

func (k Kind) String() string {
	switch k {
	case EmptyRange:
		return "EmptyRange"
	case SingularOrientation:
		return "SingularOrientation"
	default:
		return "Unknown"
	}
}

// Error is the structured failure type this package returns.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func newErr(k Kind, detail string) *Error {
	return &Error{Kind: k, Detail: detail}
}
