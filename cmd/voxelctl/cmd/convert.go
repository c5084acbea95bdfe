package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jpfielding/dicom3d/pkg/annotation"
	"github.com/jpfielding/dicom3d/pkg/dicom"
	"github.com/jpfielding/dicom3d/pkg/mesh"
	"github.com/jpfielding/dicom3d/pkg/series"
	"github.com/jpfielding/dicom3d/pkg/volume"
)

// NewConvertCmd implements the CLI surface of spec.md §6: convert a
// directory of DICOM slices into an iso-surface mesh.
func NewConvertCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <input-dir> <output-mesh>",
		Short: "reconstruct a volume from a DICOM series and extract an iso-surface mesh",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(ctx, cmd, args[0], args[1])
		},
	}
	pf := cmd.Flags()
	pf.Float64("iso", 0, "iso-surface value (default: auto via Otsu)")
	pf.Int("chunk", 64, "marching-cubes chunk size in voxels")
	pf.Int("smooth-iter", mesh.DefaultSmoothIterations, "Taubin smoothing iterations")
	pf.Bool("auto-iso", true, "use the volume's auto-computed iso value unless --iso is set")
	pf.String("annotations", "", "optional annotation JSON file to attach as a DICOM SR sidecar")
	return cmd
}

func runConvert(ctx context.Context, cmd *cobra.Command, inputDir, outputMesh string) error {
	isoFlag, _ := cmd.Flags().GetFloat64("iso")
	isoSet := cmd.Flags().Changed("iso")
	chunkSize, _ := cmd.Flags().GetInt("chunk")
	smoothIter, _ := cmd.Flags().GetInt("smooth-iter")
	annotationsPath, _ := cmd.Flags().GetString("annotations")

	slices, err := readSlices(inputDir)
	if err != nil {
		return err
	}

	s, err := series.Assemble(slices)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "assembled series", "slices", len(s.Slices), "dims", s.Dims, "approximate", s.Approximate)

	vol, err := volume.Build(s)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "built volume", "min", vol.Min, "max", vol.Max, "autoIso", vol.AutoIso)

	iso := vol.AutoIso
	if isoSet {
		iso = isoFlag
	}

	req := mesh.Request{
		Field:       vol.Field,
		Dims:        vol.Dims,
		Spacing:     vol.Spacing,
		Origin:      vol.Origin,
		Orientation: vol.Orientation,
		Min:         vol.Min,
		Max:         vol.Max,
		Iso:         iso,
		ChunkSize:   chunkSize,
	}

	m, err := mesh.Extract(ctx, req, func(p float64) {
		slog.DebugContext(ctx, "extraction progress", "fraction", p)
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "extracted mesh", "vertices", m.VertexCount(), "triangles", m.TriangleCount())

	mesh.PostProcess(m, smoothIter)

	if err := writeMeshFile(outputMesh, m); err != nil {
		return err
	}
	slog.InfoContext(ctx, "wrote mesh", "path", outputMesh)

	if annotationsPath != "" {
		if err := attachAnnotations(annotationsPath, outputMesh, s, vol); err != nil {
			return err
		}
	}

	return nil
}

func readSlices(inputDir string) ([]*dicom.RawSlice, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}

	var slices []*dicom.RawSlice
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(inputDir, e.Name())
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		sl, err := dicom.ReadSlice(buf)
		if err != nil {
			return nil, err
		}
		slices = append(slices, sl)
	}
	return slices, nil
}

func writeMeshFile(path string, m *mesh.Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output mesh file: %w", err)
	}
	defer f.Close()
	return mesh.WriteSTL(f, m)
}

func attachAnnotations(annotationsPath, outputMesh string, s *series.Series, vol *volume.Volume) error {
	data, err := os.ReadFile(annotationsPath)
	if err != nil {
		return fmt.Errorf("reading annotations file: %w", err)
	}
	anns, err := annotation.ImportJSON(data, vol.Dims[2])
	if err != nil {
		return err
	}
	srBytes, err := annotation.ExportSR(anns, s, vol)
	if err != nil {
		return err
	}
	srPath := outputMesh + ".sr.dcm"
	return os.WriteFile(srPath, srBytes, 0o644)
}
