package mesh

import (
	"context"
	"math"

	"github.com/jpfielding/dicom3d/pkg/volume"
)

const (
	defaultChunkSize   = 64
	chunkOverlap       = 2
	maxChunkVertices   = 4_000_000
	edgeInterpEpsilon  = 1e-6
	dedupQuantizeScale = 1e5
	dedupTolerance     = 1e-4
)

var cornerOffsets = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1},
	{0, 1, 0}, {1, 1, 0}, {1, 1, 1}, {0, 1, 1},
}

// Request is the input to Extract: a calibrated scalar field plus the
// geometry needed to map grid coordinates into patient space.
type Request struct {
	Field       []float32
	Dims        [3]int // w, h, d
	Spacing     [3]float64
	Origin      [3]float64
	Orientation [9]float64 // row-dir, col-dir, slice-normal
	Min, Max    float64
	Iso         float64
	ChunkSize   int // 0 defaults to 64
}

type axisRange struct{ start, end int }

// Extract runs chunked marching cubes over req, publishing progress after
// every chunk (including skipped undersized chunks) and observing ctx
// cancellation at chunk boundaries (spec.md §4.E, §5).
func Extract(ctx context.Context, req Request, progress func(float64)) (*Mesh, error) {
	w, h, d := req.Dims[0], req.Dims[1], req.Dims[2]
	if w < 2 || h < 2 || d < 2 {
		return nil, newErr(DimensionTooSmall, "each dimension must be >= 2")
	}
	if math.IsNaN(req.Iso) || math.IsInf(req.Iso, 0) {
		return nil, newErr(NonFiniteIso, "")
	}
	if req.Iso < req.Min || req.Iso > req.Max {
		return nil, newErr(IsoOutOfRange, "iso outside observed [min,max]")
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	xRanges := chunkRanges(w-1, chunkSize, chunkOverlap)
	yRanges := chunkRanges(h-1, chunkSize, chunkOverlap)
	zRanges := chunkRanges(d-1, chunkSize, chunkOverlap)
	total := len(xRanges) * len(yRanges) * len(zRanges)
	if total == 0 {
		progress(1.0)
		return &Mesh{}, nil
	}

	gm := volume.NewMap(req.Dims, req.Spacing, req.Origin, req.Orientation)

	var positions []float32
	var indices []uint32
	haveBBox := false
	var bboxMin, bboxMax [3]float64

	processed := 0
	for _, xr := range xRanges {
		for _, yr := range yRanges {
			for _, zr := range zRanges {
				select {
				case <-ctx.Done():
					return nil, newErr(Cancelled, "")
				default:
				}

				if xr.end-xr.start >= 2 && yr.end-yr.start >= 2 && zr.end-zr.start >= 2 {
					localPos, localIdx, err := processChunk(req, xr, yr, zr, gm)
					if err != nil {
						return nil, err
					}
					offset := uint32(len(positions) / 3)
					for _, ix := range localIdx {
						indices = append(indices, ix+offset)
					}
					positions = append(positions, localPos...)

					for i := 0; i+2 < len(localPos); i += 3 {
						p := [3]float64{float64(localPos[i]), float64(localPos[i+1]), float64(localPos[i+2])}
						if !haveBBox {
							bboxMin, bboxMax = p, p
							haveBBox = true
							continue
						}
						for k := 0; k < 3; k++ {
							if p[k] < bboxMin[k] {
								bboxMin[k] = p[k]
							}
							if p[k] > bboxMax[k] {
								bboxMax[k] = p[k]
							}
						}
					}
				}

				processed++
				progress(float64(processed) / float64(total))
			}
		}
	}

	if len(positions) == 0 {
		return &Mesh{}, nil
	}

	m := &Mesh{Positions: positions, Indices: indices, BBoxMin: bboxMin, BBoxMax: bboxMax}
	m.Normals = make([]float32, len(positions))
	return m, nil
}

// chunkRanges partitions [0,total) into base chunks of the given size, each
// extended by overlap voxels on both sides (clamped to the volume). Every
// range is returned, including ones narrower than 2 cells; Extract skips
// those but still counts them for progress.
func chunkRanges(total, size, overlap int) []axisRange {
	var ranges []axisRange
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		extStart := start - overlap
		if extStart < 0 {
			extStart = 0
		}
		extEnd := end + overlap
		if extEnd > total {
			extEnd = total
		}
		ranges = append(ranges, axisRange{extStart, extEnd})
	}
	return ranges
}

type localVertex struct {
	index   uint32
	patient [3]float64
}

func processChunk(req Request, xr, yr, zr axisRange, gm *volume.Map) ([]float32, []uint32, error) {
	w, h := req.Dims[0], req.Dims[1]
	field := req.Field

	var positions []float32
	var indices []uint32
	dedup := make(map[[3]int64][]localVertex)

	getOrAdd := func(grid, patient [3]float64) uint32 {
		key := [3]int64{
			int64(math.Round(grid[0] * dedupQuantizeScale)),
			int64(math.Round(grid[1] * dedupQuantizeScale)),
			int64(math.Round(grid[2] * dedupQuantizeScale)),
		}
		for _, v := range dedup[key] {
			if dist(v.patient, patient) <= dedupTolerance {
				return v.index
			}
		}
		idx := uint32(len(positions) / 3)
		positions = append(positions, float32(patient[0]), float32(patient[1]), float32(patient[2]))
		dedup[key] = append(dedup[key], localVertex{index: idx, patient: patient})
		return idx
	}

	var edgeVertIdx [12]int32

	for x := xr.start; x < xr.end; x++ {
		for y := yr.start; y < yr.end; y++ {
			for z := zr.start; z < zr.end; z++ {
				var cornerVal [8]float64
				for c := 0; c < 8; c++ {
					ox, oy, oz := cornerOffsets[c][0], cornerOffsets[c][1], cornerOffsets[c][2]
					idx := (z+oz)*w*h + (y+oy)*w + (x + ox)
					cornerVal[c] = float64(field[idx])
				}

				cubeIndex := 0
				for c := 0; c < 8; c++ {
					if cornerVal[c] < req.Iso {
						cubeIndex |= 1 << uint(c)
					}
				}
				edges := edgeTable[cubeIndex]
				if edges == 0 {
					continue
				}

				for e := 0; e < 12; e++ {
					edgeVertIdx[e] = -1
				}
				for e := 0; e < 12; e++ {
					if edges&(1<<uint(e)) == 0 {
						continue
					}
					a, b := edgeVertices[e][0], edgeVertices[e][1]
					pa := [3]float64{
						float64(x + cornerOffsets[a][0]),
						float64(y + cornerOffsets[a][1]),
						float64(z + cornerOffsets[a][2]),
					}
					pb := [3]float64{
						float64(x + cornerOffsets[b][0]),
						float64(y + cornerOffsets[b][1]),
						float64(z + cornerOffsets[b][2]),
					}
					va, vb := cornerVal[a], cornerVal[b]

					t := 0.5
					if math.Abs(vb-va) >= edgeInterpEpsilon {
						t = (req.Iso - va) / (vb - va)
					}
					grid := [3]float64{
						pa[0] + t*(pb[0]-pa[0]),
						pa[1] + t*(pb[1]-pa[1]),
						pa[2] + t*(pb[2]-pa[2]),
					}
					patient := gm.VoxelToPatient(grid)
					edgeVertIdx[e] = int32(getOrAdd(grid, patient))

					if len(positions)/3 > maxChunkVertices {
						return nil, nil, newErr(ChunkBudgetExceeded, "")
					}
				}

				tri := triTable[cubeIndex]
				for i := 0; i < 16 && tri[i] != -1; i += 3 {
					ia, ib, ic := edgeVertIdx[tri[i]], edgeVertIdx[tri[i+1]], edgeVertIdx[tri[i+2]]
					indices = append(indices, uint32(ia), uint32(ib), uint32(ic))
				}
			}
		}
	}

	return positions, indices, nil
}

func dist(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
