package dicom

import (
	"fmt"

	"github.com/jpfielding/dicom3d/pkg/dicom/tag"
)

// Kind enumerates the parsing failure modes SliceReader can report (spec.md
// §7, origin A).
type Kind int

const (
	// MalformedHeader means the preamble/DICM magic could not be validated
	// or the element stream ended mid-element.
	MalformedHeader Kind = iota
	// MissingRequiredTag means Rows, Columns, or Bits Allocated was absent.
	MissingRequiredTag
	// UnsupportedBitsAllocated means Bits Allocated was neither 8 nor 16.
	UnsupportedBitsAllocated
	// UnsupportedTransferSyntax means the file declared a transfer syntax
	// this module cannot decode.
	UnsupportedTransferSyntax
	// PixelDataAbsent means no Pixel Data element was found.
	PixelDataAbsent
)

func (k Kind) String() string {
	switch k {
	case MalformedHeader:
		return "MalformedHeader"
	case MissingRequiredTag:
		return "MissingRequiredTag"
	case UnsupportedBitsAllocated:
		return "UnsupportedBitsAllocated"
	case UnsupportedTransferSyntax:
		return "UnsupportedTransferSyntax"
	case PixelDataAbsent:
		return "PixelDataAbsent"
	default:
		return "Unknown"
	}
}

// Error is the structured failure type returned by this package. It never
// embeds file paths or patient identifiers, only the offending tag and a
// stable message tag, per spec.md §7's user-visible-behavior requirement.
type Error struct {
	Kind    Kind
	Tag     tag.Tag // zero value when not tag-specific
	Detail  string
	wrapped error
}

func (e *Error) Error() string {
	if e.Tag != (tag.Tag{}) {
		msg := fmt.Sprintf("%s (%04X,%04X)", e.Kind, e.Tag.Group, e.Tag.Element)
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		return msg
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.wrapped }

func newErr(k Kind, detail string, wrapped error) *Error {
	return &Error{Kind: k, Detail: detail, wrapped: wrapped}
}

func newTagErr(k Kind, t tag.Tag, detail string) *Error {
	return &Error{Kind: k, Tag: t, Detail: detail}
}
