package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
)

var (
	gcsOnce sync.Once
	gcsErr  error
)

func needsGCS(paths []string) bool {
	for _, p := range paths {
		if strings.HasPrefix(p, "gs://") {
			return true
		}
	}
	return false
}

// registerGCS makes gs://bucket/object paths readable by gdal. Credentials
// are only required when a gs:// source is actually used.
func registerGCS(ctx context.Context) error {
	gcsOnce.Do(func() {
		stcl, err := storage.NewClient(ctx)
		if err != nil {
			gcsErr = fmt.Errorf("storage.newclient: %w", err)
			return
		}
		gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
		if err != nil {
			gcsErr = fmt.Errorf("gcs.handle: %w", err)
			return
		}
		gcsa, err := osio.NewAdapter(gcsh, osio.BlockSize(blocksize), osio.NumCachedBlocks(numBlocks))
		if err != nil {
			gcsErr = fmt.Errorf("osio.new: %w", err)
			return
		}
		if err := godal.RegisterVSIHandler("gs://", gcsa); err != nil {
			gcsErr = fmt.Errorf("register osio: %w", err)
		}
	})
	return gcsErr
}
