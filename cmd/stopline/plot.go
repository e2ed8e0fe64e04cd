package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/stopline/internal/api"
	"github.com/banshee-data/stopline/internal/monitoring"
	"github.com/banshee-data/stopline/internal/pathplot"
	"github.com/banshee-data/stopline/internal/timeutil"
)

// savePlot renders the current loop state to path. The image is written
// beside path first and renamed over it, so readers never see a partial
// file.
func savePlot(ctx context.Context, src api.SnapshotSource, path string) error {
	snap, err := src.Snapshot(ctx)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err := pathplot.SaveFile(tmp, snap, pathplot.DefaultSize); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// writePlots refreshes the plot at path every interval until ctx is done.
func writePlots(ctx context.Context, src api.SnapshotSource, path string, every time.Duration, clock timeutil.Clock) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()

	failLog := monitoring.Throttle{Every: 10}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := savePlot(ctx, src, path); err != nil && ctx.Err() == nil {
				failLog.Logf("failed to write path plot: %v", err)
			}
		}
	}
}
