package cmd

import (
	"github.com/jpfielding/dicom3d/pkg/dicom"
	"github.com/jpfielding/dicom3d/pkg/mesh"
	"github.com/jpfielding/dicom3d/pkg/series"
)

// ExitCode maps a convert error to the process exit code voxelctl reports:
// 0 success, 2 unsupported transfer syntax, 3 inconsistent series, 4 iso out
// of range, 5 cancellation, 1 any other failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if de, ok := err.(*dicom.Error); ok && de.Kind == dicom.UnsupportedTransferSyntax {
		return 2
	}
	if se, ok := err.(*series.Error); ok && se.Kind == series.InconsistentSeries {
		return 3
	}
	if me, ok := err.(*mesh.Error); ok {
		switch me.Kind {
		case mesh.IsoOutOfRange:
			return 4
		case mesh.Cancelled:
			return 5
		}
	}
	return 1
}
