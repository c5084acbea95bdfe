package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpfielding/dicom3d/cmd/voxelctl/cmd"
	"github.com/jpfielding/dicom3d/internal/logging"
)

var GitSHA string = "NA"

func main() {
	ctx, cnc := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cnc()
	go func() {
		defer cnc()
		<-ctx.Done()
	}()

	slog.SetDefault(logging.Logger(os.Stdout, false, slog.LevelInfo))
	ctx = logging.AppendCtx(ctx,
		slog.Group("voxelctl",
			slog.String("git", GitSHA),
		))

	err := cmd.NewRoot(ctx, GitSHA).ExecuteContext(ctx)
	os.Exit(cmd.ExitCode(err))
}
