package dicom

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/jpfielding/dicom3d/pkg/dicom/tag"
	"github.com/jpfielding/dicom3d/pkg/dicom/transfer"
)

// RawSlice is a single parsed 2D frame plus the subset of DICOM tags
// SeriesAssembler and VolumeBuilder need (spec.md §3). Exactly one pixel
// payload is ever produced: Samples always holds the decoded sample bytes,
// and JPEGDecoded records whether those bytes came from a baseline-JPEG
// decode (in which case no rescale slope/intercept applies — the source
// pixel-payload variant is consumed entirely inside SliceReader).
type RawSlice struct {
	Rows, Columns int
	BitsAllocated int // 8 or 16
	Signed        bool
	TransferSyntax transfer.Syntax

	// Samples holds Rows*Columns samples, BitsAllocated/8 bytes each,
	// little-endian, row-major.
	Samples []byte
	// JPEGDecoded is true when Samples came from a baseline-JPEG frame;
	// such slices are uncalibrated (see spec.md §9 Open Questions).
	JPEGDecoded bool

	RescaleSlope     float64
	RescaleIntercept float64

	HasWindow    bool
	WindowCenter float64
	WindowWidth  float64

	HasPosition bool
	Position    [3]float64 // Image Position Patient

	HasOrientation bool
	Orientation    [6]float64 // Image Orientation Patient: row-dir, col-dir

	HasPixelSpacing bool
	SpacingRow      float64
	SpacingCol      float64

	HasInstanceNumber bool
	InstanceNumber    int

	HasSliceLocation bool
	SliceLocation    float64

	SOPInstanceUID      string
	StudyInstanceUID    string
	SeriesInstanceUID   string
	FrameOfReferenceUID string
	PatientID           string
	Modality            string
	StudyDate           string
}

// ReadSlice parses one DICOM object from buf and extracts the RawSlice.
func ReadSlice(buf []byte) (*RawSlice, error) {
	ds, err := Parse(bytes.NewReader(buf))
	if err != nil {
		if de, ok := err.(*Error); ok {
			return nil, de
		}
		return nil, newErr(MalformedHeader, "parsing DICOM stream", err)
	}

	rows, ok := intTag(ds, tag.Rows)
	if !ok {
		return nil, newTagErr(MissingRequiredTag, tag.Rows, "required for pixel geometry")
	}
	cols, ok := intTag(ds, tag.Columns)
	if !ok {
		return nil, newTagErr(MissingRequiredTag, tag.Columns, "required for pixel geometry")
	}
	bitsAllocated, ok := intTag(ds, tag.BitsAllocated)
	if !ok {
		return nil, newTagErr(MissingRequiredTag, tag.BitsAllocated, "required to interpret sample width")
	}
	if bitsAllocated != 8 && bitsAllocated != 16 {
		return nil, newErr(UnsupportedBitsAllocated, fmt.Sprintf("%d", bitsAllocated), nil)
	}

	ts := transfer.ImplicitVRLittleEndian
	if e, ok := ds.Find(tag.TransferSyntaxUID); ok {
		if s, ok := e.GetString(); ok {
			ts = transfer.FromUID(s)
		}
	}
	if !ts.Supported() {
		return nil, newErr(UnsupportedTransferSyntax, string(ts), nil)
	}

	pdElem, ok := ds.Find(tag.PixelData)
	if !ok {
		return nil, newErr(PixelDataAbsent, "", nil)
	}
	pd, ok := pdElem.GetPixelData()
	if !ok {
		return nil, newErr(PixelDataAbsent, "element present but not pixel data", nil)
	}

	slice := &RawSlice{
		Rows:           rows,
		Columns:        cols,
		BitsAllocated:  bitsAllocated,
		TransferSyntax: ts,
	}

	if signedRep, ok := intTag(ds, tag.PixelRepresentation); ok {
		slice.Signed = signedRep == 1
	}

	if ts == transfer.JPEGBaseline1 {
		if pd == nil || len(pd.Fragments) == 0 {
			return nil, newErr(PixelDataAbsent, "no encapsulated fragments", nil)
		}
		samples, err := decodeJPEGBaseline(pd.Fragments[0], rows, cols)
		if err != nil {
			return nil, newErr(MalformedHeader, "decoding JPEG baseline frame", err)
		}
		slice.Samples = samples
		slice.JPEGDecoded = true
		slice.BitsAllocated = 8
	} else {
		if pd == nil || len(pd.Uncompressed) == 0 {
			return nil, newErr(PixelDataAbsent, "no uncompressed sample buffer", nil)
		}
		expected := rows * cols * (bitsAllocated / 8)
		if len(pd.Uncompressed) < expected {
			return nil, newErr(MalformedHeader, fmt.Sprintf("pixel data truncated: want %d bytes, got %d", expected, len(pd.Uncompressed)), nil)
		}
		buf := make([]byte, expected)
		copy(buf, pd.Uncompressed[:expected])
		slice.Samples = buf
	}

	slice.RescaleSlope = 1
	slice.RescaleIntercept = 0
	if e, ok := ds.Find(tag.RescaleSlope); ok {
		if f, ok := e.GetFloat(); ok {
			slice.RescaleSlope = f
		}
	}
	if e, ok := ds.Find(tag.RescaleIntercept); ok {
		if f, ok := e.GetFloat(); ok {
			slice.RescaleIntercept = f
		}
	}

	if e, ok := ds.Find(tag.WindowCenter); ok {
		if c, ok := e.GetFloat(); ok {
			if e2, ok := ds.Find(tag.WindowWidth); ok {
				if w, ok := e2.GetFloat(); ok {
					slice.HasWindow = true
					slice.WindowCenter = c
					slice.WindowWidth = w
				}
			}
		}
	}

	if e, ok := ds.Find(tag.ImagePositionPatient); ok {
		if vs, ok := e.GetFloats(); ok && len(vs) == 3 {
			slice.HasPosition = true
			slice.Position = [3]float64{vs[0], vs[1], vs[2]}
		}
	}

	if e, ok := ds.Find(tag.ImageOrientationPatient); ok {
		if vs, ok := e.GetFloats(); ok && len(vs) == 6 {
			slice.HasOrientation = true
			slice.Orientation = [6]float64{vs[0], vs[1], vs[2], vs[3], vs[4], vs[5]}
		}
	}

	if e, ok := ds.Find(tag.PixelSpacing); ok {
		if vs, ok := e.GetFloats(); ok && len(vs) == 2 {
			slice.HasPixelSpacing = true
			slice.SpacingRow = vs[0]
			slice.SpacingCol = vs[1]
		}
	}

	if n, ok := intTag(ds, tag.InstanceNumber); ok {
		slice.HasInstanceNumber = true
		slice.InstanceNumber = n
	}

	if e, ok := ds.Find(tag.SliceLocation); ok {
		if f, ok := e.GetFloat(); ok {
			slice.HasSliceLocation = true
			slice.SliceLocation = f
		}
	}

	if e, ok := ds.Find(tag.SOPInstanceUID); ok {
		slice.SOPInstanceUID, _ = e.GetString()
	}
	if e, ok := ds.Find(tag.StudyInstanceUID); ok {
		slice.StudyInstanceUID, _ = e.GetString()
	}
	if e, ok := ds.Find(tag.SeriesInstanceUID); ok {
		slice.SeriesInstanceUID, _ = e.GetString()
	}
	if e, ok := ds.Find(tag.FrameOfReferenceUID); ok {
		slice.FrameOfReferenceUID, _ = e.GetString()
	}
	if e, ok := ds.Find(tag.PatientID); ok {
		slice.PatientID, _ = e.GetString()
	}
	if e, ok := ds.Find(tag.Modality); ok {
		slice.Modality, _ = e.GetString()
	}
	if e, ok := ds.Find(tag.StudyDate); ok {
		slice.StudyDate, _ = e.GetString()
	}

	return slice, nil
}

func intTag(ds *Dataset, t Tag) (int, bool) {
	e, ok := ds.Find(t)
	if !ok {
		return 0, false
	}
	return e.GetInt()
}

// decodeJPEGBaseline decodes one JPEG Process-1 frame with the standard
// library decoder and converts it to 8-bit grayscale using the same
// 0.299/0.587/0.114 luminance weighting the teacher's cmd/ctl analyze
// command applies when it falls back to image/jpeg, but with round-to-
// nearest instead of integer truncation (spec.md §4.A).
func decodeJPEGBaseline(fragment []byte, rows, cols int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(fragment))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	out := make([]byte, rows*cols)

	if gray, ok := img.(*image.Gray); ok {
		for y := 0; y < rows && y < bounds.Dy(); y++ {
			for x := 0; x < cols && x < bounds.Dx(); x++ {
				out[y*cols+x] = gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y
			}
		}
		return out, nil
	}

	for y := 0; y < rows && y < bounds.Dy(); y++ {
		for x := 0; x < cols && x < bounds.Dx(); x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			r8 := float64(r >> 8)
			g8 := float64(g >> 8)
			b8 := float64(b >> 8)
			gray := math.Round(0.299*r8 + 0.587*g8 + 0.114*b8)
			if gray < 0 {
				gray = 0
			}
			if gray > 255 {
				gray = 255
			}
			out[y*cols+x] = byte(gray)
		}
	}
	return out, nil
}
