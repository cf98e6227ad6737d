package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"radextract/pkg/atlas"
	"radextract/pkg/bids"
	"radextract/pkg/config"
	"radextract/pkg/pipeline"
)

func main() {
	var (
		bidsRoot     string
		atlasDir     string
		atlasVersion string
		configPath   string
		verbose      bool
	)

	rootCmd := &cobra.Command{
		Use:   "radextract",
		Short: "Extract regional diffusion metrics (FA/MD/AD/RD) from a BIDS derivative tree",
		Long: "radextract projects a fixed anatomical atlas onto each session's native voxel\n" +
			"grid, aggregates voxel statistics per region and writes one CSV table per\n" +
			"(session, metric) plus a QC overlay image per session.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("atlas-dir") {
				cfg.Atlas.Dir = atlasDir
			}
			if cmd.Flags().Changed("atlas-version") {
				cfg.Atlas.Version = atlasVersion
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Output.Verbose = verbose
			}

			logger, err := newLogger(cfg.Output.Verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()
			slog := logger.Sugar()

			slog.Infow("loading atlas", "dir", cfg.Atlas.Dir, "version", cfg.Atlas.Version)
			store, err := atlas.Load(cfg.Atlas.Dir, cfg.Atlas.Version)
			if err != nil {
				return err
			}
			slog.Info(store.String())

			start := time.Now()
			driver := pipeline.NewDriver(cfg, store, slog)
			rep, err := driver.Run(bidsRoot)
			if err != nil {
				return err
			}

			fmt.Printf("Processed %d sessions (%d skipped), wrote %d metric tables and %d QC images in %.1fs\n",
				rep.Sessions, rep.SessionsSkipped, rep.TablesWritten, rep.QCImages,
				time.Since(start).Seconds())
			return nil
		},
	}

	rootCmd.Flags().StringVar(&bidsRoot, "bids-root", "", "BIDS dataset root containing derivatives/atlas_space-clean (required)")
	rootCmd.Flags().StringVar(&atlasDir, "atlas-dir", "atlas", "atlas root directory")
	rootCmd.Flags().StringVar(&atlasVersion, "atlas-version", "4wk",
		"atlas version ("+strings.Join(atlas.Versions, "|")+")")
	rootCmd.Flags().StringVar(&configPath, "config", "radextract.yaml", "optional YAML configuration file")
	rootCmd.Flags().BoolVar(&verbose, "verbose", true, "verbose progress logging")
	if err := rootCmd.MarkFlagRequired("bids-root"); err != nil {
		panic(err)
	}

	if err := rootCmd.Execute(); err != nil {
		// Setup failures (bad atlas tree, missing dataset root) are the only
		// errors that reach here; skipped sessions never abort the run.
		if errors.IsAny(err, atlas.ErrAtlasLoad, bids.ErrSetup) {
			fmt.Fprintln(os.Stderr, "setup error:", err)
		}
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}
