// Package volume implements VolumeBuilder (spec.md §4.C) and GeometryMap
// (spec.md §4.D): turning an assembled Series into a calibrated scalar
// field plus an 8-bit display stack and an auto-iso estimate.
package volume

import (
	"encoding/binary"
	"math"

	"github.com/jpfielding/dicom3d/pkg/dicom"
	"github.com/jpfielding/dicom3d/pkg/series"
)

const histogramBins = 512

// Volume is the calibrated scalar field and display stack (spec.md §3).
// index(x,y,z) = z*w*h + y*w + x.
type Volume struct {
	Dims    [3]int // w, h, d
	Spacing [3]float64
	Origin  [3]float64
	// Orientation is row-dir, col-dir, slice-normal: 9 floats, 3 per vector.
	Orientation [9]float64

	Field []float32 // length w*h*d, modality units
	Min   float64
	Max   float64

	AutoIso           float64
	AutoIsoDegenerate bool

	// Display holds one 8-bit row-major frame per slice.
	Display [][]byte

	// Uncalibrated[z] is true when slice z arrived JPEG-decoded and was
	// copied into Field without rescale slope/intercept (spec.md §9 Open
	// Questions).
	Uncalibrated []bool
}

// Index returns the flattened scalar-field index for voxel (x,y,z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Dims[0]*v.Dims[1] + y*v.Dims[0] + x
}

// Map returns a GeometryMap bound to this Volume's geometry.
func (v *Volume) Map() *Map {
	return NewMap(v.Dims, v.Spacing, v.Origin, v.Orientation)
}

// Build constructs a Volume from an assembled Series.
func Build(s *series.Series) (*Volume, error) {
	w, h, d := s.Dims.Cols, s.Dims.Rows, s.Dims.Depth

	rowDir := [3]float64{s.Orientation[0], s.Orientation[1], s.Orientation[2]}
	colDir := [3]float64{s.Orientation[3], s.Orientation[4], s.Orientation[5]}
	normal := SliceNormal(rowDir, colDir)

	vol := &Volume{
		Dims:    [3]int{w, h, d},
		Spacing: s.Spacing,
		Origin:  s.Origin,
		Orientation: [9]float64{
			rowDir[0], rowDir[1], rowDir[2],
			colDir[0], colDir[1], colDir[2],
			normal[0], normal[1], normal[2],
		},
		Field:        make([]float32, w*h*d),
		Display:      make([][]byte, d),
		Uncalibrated: make([]bool, d),
	}

	vol.Min = math.Inf(1)
	vol.Max = math.Inf(-1)

	for z, sl := range s.Slices {
		sliceVals := make([]float64, w*h)
		samples := decodeSamples(sl.Samples, sl.BitsAllocated, sl.Signed)

		for i, raw := range samples {
			var calibrated float64
			if sl.JPEGDecoded {
				calibrated = raw
				vol.Uncalibrated[z] = true
			} else {
				calibrated = raw*sl.RescaleSlope + sl.RescaleIntercept
			}
			sliceVals[i] = calibrated
			vol.Field[z*w*h+i] = float32(calibrated)
			if calibrated < vol.Min {
				vol.Min = calibrated
			}
			if calibrated > vol.Max {
				vol.Max = calibrated
			}
		}

		vol.Display[z] = buildDisplayFrame(sl, sliceVals)
	}

	if d == 0 {
		vol.Min, vol.Max = 0, 0
	}

	vol.AutoIso, vol.AutoIsoDegenerate = otsu(vol.Field, vol.Min, vol.Max)

	return vol, nil
}

// decodeSamples interprets the raw little-endian byte buffer as signed or
// unsigned 8/16-bit integers and returns them as float64, per-slice
// signedness applied (spec.md §4.C).
func decodeSamples(buf []byte, bitsAllocated int, signed bool) []float64 {
	bytesPer := bitsAllocated / 8
	n := len(buf) / bytesPer
	out := make([]float64, n)

	for i := 0; i < n; i++ {
		switch bitsAllocated {
		case 8:
			b := buf[i]
			if signed {
				out[i] = float64(int8(b))
			} else {
				out[i] = float64(b)
			}
		case 16:
			u := binary.LittleEndian.Uint16(buf[i*2 : i*2+2])
			if signed {
				out[i] = float64(int16(u))
			} else {
				out[i] = float64(u)
			}
		}
	}
	return out
}

// buildDisplayFrame produces the 8-bit preview frame for one slice
// (spec.md §4.C). JPEG-decoded frames and 8-bit unsigned frames pass
// through; 8-bit signed frames shift by +128; 16-bit frames apply a linear
// window.
func buildDisplayFrame(sl *dicom.RawSlice, calibrated []float64) []byte {
	out := make([]byte, len(calibrated))

	if sl.JPEGDecoded || (sl.BitsAllocated == 8 && !sl.Signed) {
		for i, v := range calibrated {
			out[i] = clampByte(v)
		}
		return out
	}

	if sl.BitsAllocated == 8 && sl.Signed {
		for i, v := range calibrated {
			out[i] = clampByte(v + 128)
		}
		return out
	}

	wc, ww := sl.WindowCenter, sl.WindowWidth
	if !sl.HasWindow {
		mn, mx := minMax(calibrated)
		wc = (mn + mx) / 2
		ww = mx - mn
	}
	lo := wc - ww/2
	hi := wc + ww/2
	span := hi - lo

	for i, v := range calibrated {
		if span <= 0 {
			out[i] = 0
			continue
		}
		switch {
		case v <= lo:
			out[i] = 0
		case v >= hi:
			out[i] = 255
		default:
			out[i] = byte(math.Round((v - lo) / span * 255))
		}
	}
	return out
}

func minMax(vs []float64) (float64, float64) {
	if len(vs) == 0 {
		return 0, 0
	}
	mn, mx := vs[0], vs[0]
	for _, v := range vs[1:] {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	return mn, mx
}

func clampByte(v float64) byte {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return byte(r)
}

// otsu computes the auto-iso threshold over the entire scalar field using a
// 512-bin histogram on [min, max], maximizing between-class variance with a
// lowest-bin-index tie-break (spec.md §4.C). Degenerate ranges (min >= max)
// yield the midpoint and are flagged.
func otsu(field []float32, min, max float64) (float64, bool) {
	if min >= max || len(field) == 0 {
		return (min + max) / 2, true
	}

	binWidth := (max - min) / histogramBins
	var hist [histogramBins]int
	for _, f := range field {
		v := float64(f)
		b := int((v - min) / binWidth)
		if b < 0 {
			b = 0
		}
		if b >= histogramBins {
			b = histogramBins - 1
		}
		hist[b]++
	}

	centers := make([]float64, histogramBins)
	for b := 0; b < histogramBins; b++ {
		centers[b] = min + (float64(b)+0.5)*binWidth
	}

	n := float64(len(field))
	var totalSum float64
	for b := 0; b < histogramBins; b++ {
		totalSum += float64(hist[b]) * centers[b]
	}

	var wB, sumB float64
	bestVariance := -1.0
	bestBin := 0

	for b := 0; b < histogramBins; b++ {
		wB += float64(hist[b])
		if wB == 0 {
			continue
		}
		sumB += float64(hist[b]) * centers[b]
		wF := n - wB
		if wF == 0 {
			break
		}
		mu0 := sumB / wB
		mu1 := (totalSum - sumB) / wF
		w0 := wB / n
		w1 := wF / n
		variance := w0 * w1 * (mu0 - mu1) * (mu0 - mu1)
		if variance > bestVariance {
			bestVariance = variance
			bestBin = b
		}
	}

	return centers[bestBin], false
}
