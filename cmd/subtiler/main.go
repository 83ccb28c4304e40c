package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/subtiler"
	"github.com/airbusgeo/subtiler/internal/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Environment variables, loaded from the environment or from a .env file in
// the working directory. Flags given on the command line take precedence.
const (
	envIndex        = "SUBTILER_INDEX"
	envWorkDir      = "SUBTILER_WORKDIR"
	envGCSBlockSize = "SUBTILER_GCS_BLOCKSIZE"
	envGCSNumBlocks = "SUBTILER_GCS_NUMBLOCKS"
	envDockerImage  = "SUBTILER_DOCKER_IMAGE"
)

var (
	verbose    bool
	structured bool
	indexPath  string
	blocksize  string
	numBlocks  int
	startTime  time.Time

	// process wide, the index file is read at most once
	indexLoader *subtiler.IndexLoader
)

var envFlags = map[string]string{
	"index":     envIndex,
	"workdir":   envWorkDir,
	"blocksize": envGCSBlockSize,
	"numblocks": envGCSNumBlocks,
	"image":     envDockerImage,
}

// applyEnv sets the flags that were not given on the command line from their
// environment variable, if any.
func applyEnv(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		env, ok := envFlags[f.Name]
		if !ok || f.Changed || err != nil {
			return
		}
		if v, ok := os.LookupEnv(env); ok {
			if serr := f.Value.Set(v); serr != nil {
				err = fmt.Errorf("invalid %s=%q: %w", env, v, serr)
			}
		}
	})
	return err
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "subtiler",
		Short: "split browse images into GIBS aligned sub-tiles",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			startTime = time.Now()
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load .env: %w", err)
			}
			log.ReloadLevel()
			if structured {
				log.Structured()
			}
			if verbose {
				log.SetLevel(zapcore.DebugLevel)
			}
			if err := applyEnv(cmd.Flags()); err != nil {
				return err
			}
			indexLoader = subtiler.NewIndexLoader(indexPath)
			godal.RegisterAll()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			log.Logger(cmd.Context()).Sugar().Debugf("command %s took %.1fs",
				cmd.Name(), time.Since(startTime).Seconds())
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&verbose, "verbose", false, "verbose output")
	pf.BoolVar(&structured, "json", false, "json log output")
	pf.StringVar(&indexPath, "index", "", "intersection index file (json or yaml) [$"+envIndex+"]")
	pf.StringVar(&blocksize, "blocksize", "512k", "gs:// cache blocksize [$"+envGCSBlockSize+"]")
	pf.IntVar(&numBlocks, "numblocks", 500, "number of gs:// cached blocks [$"+envGCSNumBlocks+"]")

	rootCmd.AddCommand(
		newTransformCommand(),
		newIndexCommand(),
		newGridCodeCommand(),
		newVerifyCommand(),
		newWorkflowCommand(),
	)
	return rootCmd
}

func loadIndex() (*subtiler.Index, error) {
	if indexPath == "" {
		return nil, fmt.Errorf("no intersection index given, use --index or $%s", envIndex)
	}
	return indexLoader.Index()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Logger(ctx).Sugar().Error(err)
		os.Exit(1)
	}
}
