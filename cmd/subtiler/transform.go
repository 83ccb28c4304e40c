package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/subtiler"
	"github.com/airbusgeo/subtiler/internal/log"
	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type transformConfig struct {
	workDir     string
	gridCode    string
	copts       []string
	configOpts  []string
	switches    string
	parallelism int
	verify      bool
}

type outputLine struct {
	Source string     `json:"source"`
	GID    string     `json:"gid"`
	Path   string     `json:"path"`
	Bounds [4]float64 `json:"bounds"`
}

func newTransformCommand() *cobra.Command {
	cfg := transformConfig{}
	cmd := &cobra.Command{
		Use:   "transform [flags] source.tif...",
		Short: "reproject source images into GIBS sub-tiles",
		Long: "reproject source images into GIBS sub-tiles. The grid code of each source is taken\n" +
			"from --grid-code, or extracted from the source file name when not given.\n" +
			"One json line is printed on stdout for each produced sub-tile.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cfg.workDir == "" {
				return fmt.Errorf("no working directory given, use --workdir or $%s", envWorkDir)
			}
			if err := checkStems(args); err != nil {
				return err
			}
			if needsGCS(args) {
				if err := registerGCS(ctx); err != nil {
					return err
				}
			}
			index, err := loadIndex()
			if err != nil {
				return err
			}
			results, err := transformImages(ctx, index, cfg, args)
			if werr := writeOutputs(cmd.OutOrStdout(), args, results); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.workDir, "workdir", "", "working directory receiving the sub-tiles [$"+envWorkDir+"]")
	flags.StringVar(&cfg.gridCode, "grid-code", "", "MGRS grid code of the sources, e.g. T01WCU")
	flags.StringArrayVar(&cfg.copts, "co", nil, "additional tif creation options, e.g. \"BLOCKXSIZE=512\"")
	flags.StringArrayVar(&cfg.configOpts, "config", nil, "gdal configuration options")
	flags.StringVar(&cfg.switches, "switches", "", "additional gdalwarp switches, e.g. \"-r bilinear -dstnodata 0\"")
	flags.IntVar(&cfg.parallelism, "parallelism", 1, "number of source images processed concurrently")
	flags.BoolVar(&cfg.verify, "verify", false, "check the layout of each produced sub-tile")
	return cmd
}

func newWarper(cfg transformConfig) (*subtiler.Warper, error) {
	switches, err := shellwords.Parse(cfg.switches)
	if err != nil {
		return nil, fmt.Errorf("invalid switches: %w", err)
	}
	return subtiler.NewWarper(
		subtiler.WarpCreationOptions(cfg.copts...),
		subtiler.WarpConfigOptions(cfg.configOpts...),
		subtiler.WarpSwitches(switches...),
	)
}

func sourceGridCode(cfg transformConfig, src string) (subtiler.GridCode, error) {
	if code := strings.TrimSpace(cfg.gridCode); code != "" {
		return subtiler.GridCode(code), nil
	}
	return subtiler.GridCodeFromName(filepath.Base(src))
}

// checkStems fails if two sources would write to the same
// WorkDir/<stem> directory.
func checkStems(sources []string) error {
	seen := make(map[string]string, len(sources))
	for _, src := range sources {
		base := filepath.Base(src)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if prev, ok := seen[stem]; ok {
			return fmt.Errorf("sources %s and %s share the output directory %q", prev, src, stem)
		}
		seen[stem] = src
	}
	return nil
}

// transformImages runs one request per source. Results are returned in the
// order of sources; failed or skipped sources have a nil entry.
func transformImages(ctx context.Context, index *subtiler.Index, cfg transformConfig, sources []string) ([]subtiler.Result, error) {
	warper, err := newWarper(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.parallelism < 1 {
		cfg.parallelism = 1
	}
	results := make([]subtiler.Result, len(sources))
	p := pool.New().WithMaxGoroutines(cfg.parallelism).WithErrors().WithFirstError()
	for i, src := range sources {
		i, src := i, src
		p.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			code, err := sourceGridCode(cfg, src)
			if err != nil {
				return err
			}
			ictx := log.With(ctx,
				zap.String("invocation", uuid.New().String()),
				zap.String("source", src))
			logger := log.Logger(ictx)
			opts := []subtiler.TransformerOption{
				subtiler.WithReprojector(warper),
				subtiler.WithLogger(logger),
			}
			if cfg.verify {
				opts = append(opts, subtiler.VerifyOutputs())
			}
			tr, err := subtiler.NewTransformer(index, opts...)
			if err != nil {
				return err
			}
			res, err := tr.Transform(subtiler.Request{
				SourcePath: src,
				WorkDir:    cfg.workDir,
				GridCode:   code,
			})
			if err != nil {
				return fmt.Errorf("transform %s: %w", src, err)
			}
			logger.Info("transformed", zap.Int("subtiles", len(res)))
			results[i] = res
			return nil
		})
	}
	return results, p.Wait()
}

func writeOutputs(w io.Writer, sources []string, results []subtiler.Result) error {
	enc := json.NewEncoder(w)
	for i, res := range results {
		for _, o := range res {
			b := o.Subtile.Bounds
			line := outputLine{
				Source: sources[i],
				GID:    o.Subtile.GID,
				Path:   o.Path,
				Bounds: [4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()},
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
	}
	return nil
}
