package dicom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/jpfielding/dicom3d/pkg/dicom/tag"
	"github.com/jpfielding/dicom3d/pkg/dicom/transfer"
	"github.com/jpfielding/dicom3d/pkg/dicom/vr"
)

// Reader walks a Part 10 DICOM element stream, tracking the transfer syntax
// switch that happens after File Meta Information (group 0002) is read.
// Adapted from the teacher's element-stream walker: preamble/magic
// validation, then a tag-by-tag loop that flips explicit/implicit VR once
// Transfer Syntax UID is seen.
type Reader struct {
	r              io.Reader
	transferSyntax transfer.Syntax
	explicitVR     bool
}

// NewReader wraps r for a single ReadDataset call.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, explicitVR: true}
}

// Parse reads one complete DICOM object.
func Parse(r io.Reader) (*Dataset, error) {
	return NewReader(r).ReadDataset()
}

// ReadDataset validates the preamble and DICM magic, then reads elements
// until EOF.
func (r *Reader) ReadDataset() (*Dataset, error) {
	ds := NewDataset()

	preamble := make([]byte, 128)
	if _, err := io.ReadFull(r.r, preamble); err != nil {
		return nil, newErr(MalformedHeader, "reading 128-byte preamble", err)
	}
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r.r, magic); err != nil {
		return nil, newErr(MalformedHeader, "reading DICM magic", err)
	}
	if string(magic) != "DICM" {
		return nil, newErr(MalformedHeader, "missing DICM magic", nil)
	}

	// Group 0002 is always Explicit VR Little Endian.
	r.explicitVR = true
	haveTransferSyntax := false

	for {
		t, err := r.readTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newErr(MalformedHeader, "reading tag", err)
		}

		if t.Group != 0x0002 && !haveTransferSyntax {
			r.transferSyntax = transfer.ImplicitVRLittleEndian
			r.explicitVR = false
			haveTransferSyntax = true
		}

		elem, err := r.readElementWithTag(t)
		if err != nil {
			return nil, newErr(MalformedHeader, fmt.Sprintf("reading element %04X,%04X", t.Group, t.Element), err)
		}
		ds.Elements[elem.Tag] = elem

		if t.Equals(tag.TransferSyntaxUID) {
			if s, ok := elem.GetString(); ok {
				r.transferSyntax = transfer.FromUID(s)
				r.explicitVR = r.transferSyntax.IsExplicitVR()
				haveTransferSyntax = true
			}
		}
	}

	if !r.transferSyntax.Supported() {
		return nil, newErr(UnsupportedTransferSyntax, string(r.transferSyntax), nil)
	}

	return ds, nil
}

func (r *Reader) readTag() (Tag, error) {
	var group, element uint16
	if err := binary.Read(r.r, binary.LittleEndian, &group); err != nil {
		return Tag{}, err
	}
	if err := binary.Read(r.r, binary.LittleEndian, &element); err != nil {
		return Tag{}, err
	}
	return Tag{Group: group, Element: element}, nil
}

func (r *Reader) readElementWithTag(t Tag) (*Element, error) {
	var elemVR vr.VR
	var vl uint32

	if r.explicitVR {
		vrBytes := make([]byte, 2)
		if _, err := io.ReadFull(r.r, vrBytes); err != nil {
			return nil, err
		}
		elemVR = vr.VR(vrBytes)
		if elemVR.IsExplicitLength() {
			var vl16 uint16
			if err := binary.Read(r.r, binary.LittleEndian, &vl16); err != nil {
				return nil, err
			}
			vl = uint32(vl16)
		} else {
			reserved := make([]byte, 2)
			if _, err := io.ReadFull(r.r, reserved); err != nil {
				return nil, err
			}
			if err := binary.Read(r.r, binary.LittleEndian, &vl); err != nil {
				return nil, err
			}
		}
	} else {
		if err := binary.Read(r.r, binary.LittleEndian, &vl); err != nil {
			return nil, err
		}
		elemVR = implicitVR(t)
	}

	value, err := r.readValue(t, elemVR, vl)
	if err != nil {
		return nil, err
	}
	return &Element{Tag: t, VR: elemVR, Value: value}, nil
}

func (r *Reader) readValue(t Tag, v vr.VR, vl uint32) (interface{}, error) {
	if v == vr.SQ {
		return r.readSequence(vl)
	}

	if vl == 0xFFFFFFFF {
		if t.Equals(tag.PixelData) {
			return r.readEncapsulatedPixelData()
		}
		return r.skipUndefinedLengthSequence()
	}

	data := make([]byte, vl)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, err
	}

	if t.Equals(tag.PixelData) {
		return &PixelData{IsEncapsulated: false, Uncompressed: data}, nil
	}

	return parseValue(v, data)
}

// readSequence reads an SQ element's items into item Datasets, supporting
// both defined- and undefined-length sequences and items. Needed so
// AnnotationCodec's structured-report content sequence round trips through
// Write/Parse (spec.md §4.G).
func (r *Reader) readSequence(vl uint32) ([]*Dataset, error) {
	target := r
	if vl != 0xFFFFFFFF {
		target = &Reader{r: io.LimitReader(r.r, int64(vl)), explicitVR: r.explicitVR, transferSyntax: r.transferSyntax}
	}

	var items []*Dataset
	for {
		ds, done, err := target.readOneItemOrEOF()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		items = append(items, ds)
	}
	return items, nil
}

func (r *Reader) readOneItemOrEOF() (*Dataset, bool, error) {
	itemTag, err := r.readTag()
	if err != nil {
		return nil, false, err
	}
	if itemTag.Group == 0xFFFE && itemTag.Element == 0xE0DD {
		var l uint32
		_ = binary.Read(r.r, binary.LittleEndian, &l)
		return nil, true, nil
	}
	if itemTag.Group != 0xFFFE || itemTag.Element != 0xE000 {
		return nil, false, fmt.Errorf("expected sequence item, got %04X,%04X", itemTag.Group, itemTag.Element)
	}
	var itemLen uint32
	if err := binary.Read(r.r, binary.LittleEndian, &itemLen); err != nil {
		return nil, false, err
	}
	ds, err := r.readItemBody(itemLen)
	return ds, false, err
}

// readItemBody parses a sequence item's element stream, which carries no
// preamble/magic of its own.
func (r *Reader) readItemBody(itemLen uint32) (*Dataset, error) {
	ds := NewDataset()

	if itemLen == 0xFFFFFFFF {
		for {
			t, err := r.readTag()
			if err != nil {
				return nil, err
			}
			if t.Group == 0xFFFE && t.Element == 0xE00D {
				var l uint32
				_ = binary.Read(r.r, binary.LittleEndian, &l)
				return ds, nil
			}
			elem, err := r.readElementWithTag(t)
			if err != nil {
				return nil, err
			}
			ds.Elements[elem.Tag] = elem
		}
	}

	data := make([]byte, itemLen)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, err
	}
	sub := &Reader{r: bytes.NewReader(data), explicitVR: r.explicitVR, transferSyntax: r.transferSyntax}
	for {
		t, err := sub.readTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		elem, err := sub.readElementWithTag(t)
		if err != nil {
			return nil, err
		}
		ds.Elements[elem.Tag] = elem
	}
	return ds, nil
}

// readEncapsulatedPixelData reads the Basic Offset Table and fragment items
// of encapsulated (JPEG baseline) pixel data.
func (r *Reader) readEncapsulatedPixelData() (*PixelData, error) {
	pd := &PixelData{IsEncapsulated: true}

	botTag, err := r.readTag()
	if err != nil {
		return nil, err
	}
	if botTag.Group != 0xFFFE || botTag.Element != 0xE000 {
		return nil, fmt.Errorf("expected Basic Offset Table item, got %04X,%04X", botTag.Group, botTag.Element)
	}
	var botLen uint32
	if err := binary.Read(r.r, binary.LittleEndian, &botLen); err != nil {
		return nil, err
	}
	if botLen > 0 {
		if _, err := io.CopyN(io.Discard, r.r, int64(botLen)); err != nil {
			return nil, err
		}
	}

	for {
		itemTag, err := r.readTag()
		if err != nil {
			return nil, err
		}
		if itemTag.Group == 0xFFFE && itemTag.Element == 0xE0DD {
			var l uint32
			_ = binary.Read(r.r, binary.LittleEndian, &l)
			break
		}
		if itemTag.Group != 0xFFFE || itemTag.Element != 0xE000 {
			return nil, fmt.Errorf("expected fragment item, got %04X,%04X", itemTag.Group, itemTag.Element)
		}
		var itemLen uint32
		if err := binary.Read(r.r, binary.LittleEndian, &itemLen); err != nil {
			return nil, err
		}
		frag := make([]byte, itemLen)
		if _, err := io.ReadFull(r.r, frag); err != nil {
			return nil, err
		}
		pd.Fragments = append(pd.Fragments, frag)
	}

	return pd, nil
}

// skipUndefinedLengthSequence discards an undefined-length sequence; this
// module has no use for arbitrary nested sequences in source slices.
func (r *Reader) skipUndefinedLengthSequence() (interface{}, error) {
	for {
		itemTag, err := r.readTag()
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, err
		}
		if itemTag.Group == 0xFFFE {
			var l uint32
			if err := binary.Read(r.r, binary.LittleEndian, &l); err != nil {
				return nil, err
			}
			switch itemTag.Element {
			case 0xE0DD:
				return nil, nil
			case 0xE00D:
				continue
			case 0xE000:
				if l != 0xFFFFFFFF && l > 0 {
					if _, err := io.CopyN(io.Discard, r.r, int64(l)); err != nil {
						return nil, err
					}
				}
				continue
			}
		}
		return nil, fmt.Errorf("unexpected item tag %04X,%04X in undefined-length sequence", itemTag.Group, itemTag.Element)
	}
}

func implicitVR(t Tag) vr.VR {
	switch {
	case t.Equals(tag.PixelData):
		return vr.OW
	case t.Group == 0x0028:
		switch t.Element {
		case 0x0010, 0x0011, 0x0100, 0x0101, 0x0102, 0x0103, 0x0002:
			return vr.US
		case 0x0030, 0x1050, 0x1051, 0x1052, 0x1053:
			return vr.DS
		case 0x0004:
			return vr.CS
		}
	case t.Group == 0x0020:
		return vr.UI
	case t.Group == 0x0008:
		return vr.CS
	}
	return vr.UN
}

func parseValue(v vr.VR, data []byte) (interface{}, error) {
	switch v {
	case vr.UI, vr.SH, vr.LO, vr.ST, vr.LT, vr.UT, vr.PN, vr.CS, vr.DA, vr.TM, vr.IS, vr.DS:
		s := string(data)
		for len(s) > 0 && (s[len(s)-1] == 0 || s[len(s)-1] == ' ') {
			s = s[:len(s)-1]
		}
		return s, nil
	case vr.US:
		if len(data) == 2 {
			return int(binary.LittleEndian.Uint16(data)), nil
		}
	case vr.UL:
		if len(data) == 4 {
			return int(binary.LittleEndian.Uint32(data)), nil
		}
	case vr.SS:
		if len(data) == 2 {
			return int(int16(binary.LittleEndian.Uint16(data))), nil
		}
	case vr.SL:
		if len(data) == 4 {
			return int(int32(binary.LittleEndian.Uint32(data))), nil
		}
	case vr.FL:
		if len(data) >= 4 && len(data)%4 == 0 {
			out := make([]float64, len(data)/4)
			for i := range out {
				out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
			}
			if len(out) == 1 {
				return out[0], nil
			}
			return out, nil
		}
	case vr.FD:
		if len(data) >= 8 && len(data)%8 == 0 {
			out := make([]float64, len(data)/8)
			for i := range out {
				out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
			}
			if len(out) == 1 {
				return out[0], nil
			}
			return out, nil
		}
	}
	return data, nil
}
