package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"soundnerd/internal/analysis"
	"soundnerd/internal/config"
	"soundnerd/internal/features"
	"soundnerd/internal/logging"
	"soundnerd/internal/store"
	"soundnerd/internal/tags"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "soundnerd",
	Short: "soundnerd - crash-tolerant audio sample analysis",
	Long: `soundnerd analyzes audio samples through an external feature extractor,
surviving native crashes by escalating from a persistent Standard-mode worker
to one-shot Safe-mode runs to a synthesized emergency record, and resolves
deterministic instrument tags from the results.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}

		if configPath == "" {
			configPath = filepath.Join(workspace, ".soundnerd", "config.yaml")
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var (
	analyzeLevel    string
	analyzeFilename string
	analyzeParallel int
)

// analyzeCmd runs the full pipeline over one or more files.
var analyzeCmd = &cobra.Command{
	Use:   "analyze [files...]",
	Short: "Analyze audio files and persist their feature records",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

// probeCmd prints lightweight container metadata without running analysis.
var probeCmd = &cobra.Command{
	Use:   "probe [file]",
	Short: "Probe container metadata (duration, sample rate, embedded tempo)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

// statusCmd summarizes the persisted store. Queue and cooldown state live
// inside a running analyze invocation and are not visible across processes.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted record counts by analysis source",
	RunE:  runStatus,
}

var (
	resolveFolder string
	resolveHint   string
)

// resolveTagsCmd runs the deterministic tag resolver standalone.
var resolveTagsCmd = &cobra.Command{
	Use:   "resolve-tags [sample-name]",
	Short: "Resolve instrument tags for a sample name without analyzing audio",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolveTags,
}

// configInitCmd writes the default config file.
var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: <workspace>/.soundnerd/config.yaml)")

	analyzeCmd.Flags().StringVar(&analyzeLevel, "level", "full", "Extraction level passed to the extractor")
	analyzeCmd.Flags().StringVar(&analyzeFilename, "filename", "", "Declared filename for hint derivation (single-file only)")
	analyzeCmd.Flags().IntVar(&analyzeParallel, "parallel", 4, "Concurrent submissions (analysis itself is slot-limited)")

	resolveTagsCmd.Flags().StringVar(&resolveFolder, "folder", "", "Folder path for congruence matching")
	resolveTagsCmd.Flags().StringVar(&resolveHint, "hint", "", "Path-derived instrument hint")

	rootCmd.AddCommand(analyzeCmd, probeCmd, statusCmd, resolveTagsCmd, configInitCmd)
}

// newOrchestrator wires the pipeline with persistence and tag resolution.
func newOrchestrator() (*analysis.Orchestrator, *store.FeatureStore, error) {
	orch := analysis.NewOrchestrator(cfg)

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	orch.SetSink(st)

	var reviewer *tags.Reviewer
	if cfg.Tags.AllowAIReview && cfg.Reviewer.APIKey != "" {
		reviewer, err = tags.NewReviewer(cfg.Reviewer.APIKey, cfg.Reviewer.Model, cfg.GetReviewerTimeout())
		if err != nil {
			logger.Warn("AI reviewer unavailable", zap.Error(err))
		}
	}
	orch.SetTagResolver(tags.NewResolver(cfg.Tags.MaxTags, reviewer))

	return orch, st, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, st, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer st.Close()
	defer orch.Shutdown()

	if analyzeFilename != "" && len(args) > 1 {
		return fmt.Errorf("--filename applies to a single file")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(analyzeParallel)

	results := make([]*features.AudioFeatureRecord, len(args))
	for i, path := range args {
		g.Go(func() error {
			rec, err := orch.Analyze(ctx, analysis.Request{
				Path:     path,
				Filename: analyzeFilename,
				Level:    analyzeLevel,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = rec
			logger.Info("analyzed",
				zap.String("path", path),
				zap.String("source", string(rec.Source)),
				zap.Strings("tags", rec.TagNames()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return printJSON(results)
}

func runProbe(cmd *cobra.Command, args []string) error {
	prober := analysis.NewProber(cfg.Analysis.FFprobeBinary, cfg.GetProbeTimeout())
	res, err := prober.Probe(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"duration_sec": res.DurationSec,
		"sample_rate":  res.SampleRate,
		"channels":     res.Channels,
		"embedded_bpm": res.EmbeddedBPM,
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	count, err := st.Count(cmd.Context())
	if err != nil {
		return err
	}
	bySource, err := st.CountBySource(cmd.Context())
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"database":          cfg.Store.DatabasePath,
		"records":           count,
		"records_by_source": bySource,
	})
}

func runResolveTags(cmd *cobra.Command, args []string) error {
	var reviewer *tags.Reviewer
	if cfg.Tags.AllowAIReview && cfg.Reviewer.APIKey != "" {
		var err error
		reviewer, err = tags.NewReviewer(cfg.Reviewer.APIKey, cfg.Reviewer.Model, cfg.GetReviewerTimeout())
		if err != nil {
			logger.Warn("AI reviewer unavailable", zap.Error(err))
		}
	}
	resolver := tags.NewResolver(cfg.Tags.MaxTags, reviewer)

	resolved := resolver.ResolveTags(cmd.Context(), tags.Input{
		SampleName:     args[0],
		FolderPath:     resolveFolder,
		InstrumentHint: resolveHint,
	})
	return printJSON(resolved)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
