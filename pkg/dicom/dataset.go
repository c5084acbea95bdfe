package dicom

import (
	"strconv"
	"strings"

	"github.com/jpfielding/dicom3d/pkg/dicom/tag"
	"github.com/jpfielding/dicom3d/pkg/dicom/vr"
)

// Tag aliases the tag package's type so callers importing only pkg/dicom
// don't need a second import for tag literals built with tag.New.
type Tag = tag.Tag

// Dataset is a parsed DICOM object: a map of Tag to Element. Both the raw
// element stream read by Reader and the synthetic structured-report
// datasets built by pkg/annotation share this representation — the single
// "tagged variant value" type spec.md's Design Notes call for.
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset returns an empty dataset ready for element insertion.
func NewDataset() *Dataset {
	return &Dataset{Elements: make(map[Tag]*Element)}
}

// Element is one DICOM data element: its tag, Value Representation, and a
// typed Go value. Value holds one of: string, []string, int, []int,
// float64, []float64, []byte, *PixelData, or []*Dataset (for SQ).
type Element struct {
	Tag   Tag
	VR    vr.VR
	Value interface{}
}

// FindElement looks up an element by tag, returning ok=false when absent.
func (ds *Dataset) FindElement(group, element uint16) (*Element, bool) {
	e, ok := ds.Elements[Tag{Group: group, Element: element}]
	return e, ok
}

// Find is a tag.Tag-typed convenience wrapper around FindElement.
func (ds *Dataset) Find(t Tag) (*Element, bool) {
	return ds.FindElement(t.Group, t.Element)
}

// Put inserts or overwrites an element.
func (ds *Dataset) Put(t Tag, v vr.VR, value interface{}) {
	ds.Elements[t] = &Element{Tag: t, VR: v, Value: value}
}

// GetString returns the element's value as a trimmed string. Per spec.md
// §4.A, numeric tag decoders gracefully yield "absent" (ok=false) on
// mismatch rather than panicking.
func (e *Element) GetString() (string, bool) {
	if e == nil {
		return "", false
	}
	switch v := e.Value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0]), true
		}
	}
	return "", false
}

// GetStrings returns a backslash-delimited multi-valued string element as a
// slice, or the single string wrapped in a slice.
func (e *Element) GetStrings() ([]string, bool) {
	if e == nil {
		return nil, false
	}
	switch v := e.Value.(type) {
	case []string:
		return v, true
	case string:
		parts := strings.Split(v, `\`)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, true
	}
	return nil, false
}

// GetInt parses an IS/DS-style string element, or returns a stored int
// directly.
func (e *Element) GetInt() (int, bool) {
	if e == nil {
		return 0, false
	}
	switch v := e.Value.(type) {
	case int:
		return v, true
	case uint16:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// GetFloat parses a DS-style decimal string element, or returns a stored
// float64 directly.
func (e *Element) GetFloat() (float64, bool) {
	if e == nil {
		return 0, false
	}
	switch v := e.Value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// GetFloats parses a backslash-delimited multi-valued decimal string
// element into a slice.
func (e *Element) GetFloats() ([]float64, bool) {
	if e == nil {
		return nil, false
	}
	s, ok := e.GetString()
	if !ok {
		if vs, ok := e.Value.([]float64); ok {
			return vs, true
		}
		return nil, false
	}
	parts := strings.Split(s, `\`)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// GetPixelData returns the element's value as *PixelData, if that's what it
// holds.
func (e *Element) GetPixelData() (*PixelData, bool) {
	if e == nil {
		return nil, false
	}
	pd, ok := e.Value.(*PixelData)
	return pd, ok
}

// GetSequence returns the element's value as a slice of item datasets.
func (e *Element) GetSequence() ([]*Dataset, bool) {
	if e == nil {
		return nil, false
	}
	seq, ok := e.Value.([]*Dataset)
	return seq, ok
}

// PixelData holds either a contiguous uncompressed sample buffer or
// encapsulated (JPEG) fragments. Exactly one of the two is populated, per
// spec.md §3's RawSlice invariant.
type PixelData struct {
	IsEncapsulated bool
	Uncompressed   []byte   // owned copy, length = rows*cols*bytesPerSample
	Fragments      [][]byte // encapsulated bitstream fragments (first is used for JPEG baseline)
}
