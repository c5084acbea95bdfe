package dicom

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/jpfielding/dicom3d/pkg/dicom/vr"
)

// Write serializes ds as Explicit VR Little Endian, preceded by the 128-byte
// preamble and DICM magic. Adapted from the teacher's dataset writer:
// elements are sorted by tag before encoding, and undefined-length
// constructs are not emitted (spec.md's AnnotationCodec output is a flat
// content sequence of bounded length).
func Write(w io.Writer, ds *Dataset) error {
	preamble := make([]byte, 128)
	if _, err := w.Write(preamble); err != nil {
		return err
	}
	if _, err := w.Write([]byte("DICM")); err != nil {
		return err
	}
	return writeElements(w, ds)
}

func writeElements(w io.Writer, ds *Dataset) error {
	elements := make([]*Element, 0, len(ds.Elements))
	for _, e := range ds.Elements {
		elements = append(elements, e)
	}
	sort.Slice(elements, func(i, j int) bool {
		if elements[i].Tag.Group != elements[j].Tag.Group {
			return elements[i].Tag.Group < elements[j].Tag.Group
		}
		return elements[i].Tag.Element < elements[j].Tag.Element
	})

	for _, e := range elements {
		if err := writeElement(w, e); err != nil {
			return fmt.Errorf("writing element %04X,%04X: %w", e.Tag.Group, e.Tag.Element, err)
		}
	}
	return nil
}

func writeElement(w io.Writer, e *Element) error {
	if err := binary.Write(w, binary.LittleEndian, e.Tag.Group); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.Tag.Element); err != nil {
		return err
	}
	if _, err := w.Write([]byte(e.VR)); err != nil {
		return err
	}

	if e.VR == vr.SQ {
		if _, err := w.Write([]byte{0, 0}); err != nil {
			return err
		}
		items, _ := e.GetSequence()
		return writeSequence(w, items)
	}

	data, err := encodeValue(e.VR, e.Value)
	if err != nil {
		return err
	}

	if e.VR.IsExplicitLength() {
		if err := binary.Write(w, binary.LittleEndian, uint16(len(data))); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{0, 0}); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
			return err
		}
	}
	_, err = w.Write(data)
	return err
}

// writeSequence emits a defined-length sequence: one item per dataset, each
// prefixed by an item tag and its defined length. No item or sequence
// delimitation tags are written.
func writeSequence(w io.Writer, items []*Dataset) error {
	var bodies [][]byte
	for _, item := range items {
		b, err := renderDataset(item)
		if err != nil {
			return err
		}
		bodies = append(bodies, b)
	}

	total := uint32(0)
	for _, b := range bodies {
		total += 8 + uint32(len(b))
	}
	if err := binary.Write(w, binary.LittleEndian, total); err != nil {
		return err
	}
	for _, b := range bodies {
		if err := binary.Write(w, binary.LittleEndian, uint16(0xFFFE)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(0xE000)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func renderDataset(ds *Dataset) ([]byte, error) {
	buf := &byteCounter{}
	if err := writeElements(buf, ds); err != nil {
		return nil, err
	}
	return buf.bytes, nil
}

type byteCounter struct {
	bytes []byte
}

func (b *byteCounter) Write(p []byte) (int, error) {
	b.bytes = append(b.bytes, p...)
	return len(p), nil
}

func encodeValue(v vr.VR, value interface{}) ([]byte, error) {
	if v == vr.FD || v == vr.FL {
		if floats, ok := value.([]float64); ok {
			return encodeFloats(v, floats)
		}
	}

	switch val := value.(type) {
	case string:
		b := []byte(val)
		if len(b)%2 != 0 {
			b = append(b, padByte(v))
		}
		return b, nil
	case []string:
		s := ""
		for i, p := range val {
			if i > 0 {
				s += `\`
			}
			s += p
		}
		return encodeValue(v, s)
	case int:
		return encodeInt(v, val)
	case float64:
		return encodeFloat(v, val)
	case []float64:
		s := ""
		for i, f := range val {
			if i > 0 {
				s += `\`
			}
			s += strconv.FormatFloat(f, 'g', -1, 64)
		}
		return encodeValue(vr.DS, s)
	case []byte:
		b := make([]byte, len(val))
		copy(b, val)
		if len(b)%2 != 0 {
			b = append(b, 0)
		}
		return b, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T for VR %s", value, v)
	}
}

// encodeFloats packs a multi-valued FL/FD element as raw IEEE-754 samples,
// used for structured-report graphic data (spec.md §4.G) rather than the
// backslash-delimited decimal-string encoding DS/IS values use.
func encodeFloats(v vr.VR, floats []float64) ([]byte, error) {
	if v == vr.FL {
		b := make([]byte, 4*len(floats))
		for i, f := range floats {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(f)))
		}
		return b, nil
	}
	b := make([]byte, 8*len(floats))
	for i, f := range floats {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(f))
	}
	return b, nil
}

func padByte(v vr.VR) byte {
	if v == vr.UI {
		return 0
	}
	return ' '
}

func encodeInt(v vr.VR, n int) ([]byte, error) {
	switch v {
	case vr.US:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(n))
		return b, nil
	case vr.UL:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(n))
		return b, nil
	case vr.SS:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(int16(n)))
		return b, nil
	case vr.SL:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(n)))
		return b, nil
	default:
		return encodeValue(vr.IS, fmt.Sprintf("%d", n))
	}
}

func encodeFloat(v vr.VR, f float64) ([]byte, error) {
	switch v {
	case vr.FL:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(f)))
		return b, nil
	case vr.FD:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(f))
		return b, nil
	default:
		return encodeValue(vr.DS, strconv.FormatFloat(f, 'g', -1, 64))
	}
}
