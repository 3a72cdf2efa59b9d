package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ethernal-Tech/cardano-projector/config"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/Ethernal-Tech/cardano-projector/indexer/gouroboros"
	"github.com/Ethernal-Tech/cardano-projector/indexer/ogmios"
	"github.com/Ethernal-Tech/cardano-projector/logger"
	"github.com/Ethernal-Tech/cardano-projector/metrics"
	"github.com/Ethernal-Tech/cardano-projector/pipeline"
	"github.com/Ethernal-Tech/cardano-projector/reducers"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

const metricsShutdownTimeout = time.Second * 5

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start syncing and projecting blocks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runProjector(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runProjector(ctx context.Context, cfg *config.Config) error {
	mainLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}

	loggers := logger.NewLoggerContainer(cfg.Logger, mainLogger)

	named, err := getLoggers(loggers, "reducers", "pipeline", "source_runner", "block_syncer")
	if err != nil {
		return err
	}

	startingPoint, err := cfg.StartPoint()
	if err != nil {
		return err
	}

	reducerList, err := reducers.Build(cfg.Reducers, named["reducers"])
	if err != nil {
		return err
	}

	comps, err := openComponents(ctx, cfg, loggers)
	if err != nil {
		return err
	}

	defer func() {
		if err := comps.close(); err != nil {
			mainLogger.Error("Failed to close stores", "err", err)
		}
	}()

	projectorMetrics := metrics.NewMetrics()

	decoder, newSyncer := newSource(cfg)

	projector := pipeline.NewPipeline(cfg.PipelineConfig(), pipeline.Dependencies{
		BlockStore: comps.blockStore,
		Cache:      comps.cache,
		Decoder:    decoder,
		Reducers:   reducerList,
		Store:      comps.store,
		Metrics:    projectorMetrics,
	}, named["pipeline"])

	runner := indexer.NewSourceRunner(&indexer.SourceRunnerConfig{
		StartingPoint: startingPoint,
	}, comps.store, projector.InputCh(), named["source_runner"])

	syncer := newSyncer(runner, named["block_syncer"])

	server := startMetricsServer(cfg.Metrics.ListenAddress, projectorMetrics, mainLogger)

	projector.Start(ctx)

	// runner first, a callback blocked on the pipeline input would stall the syncer close
	defer func() {
		_ = runner.Close()
		_ = syncer.Close()
		_ = projector.Close()

		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()

			_ = server.Shutdown(shutdownCtx)
		}
	}()

	if err := syncer.Sync(); err != nil {
		return err
	}

	mainLogger.Info("Projector started", "source", cfg.Source.Kind, "startingPoint", startingPoint)

	select {
	case <-ctx.Done():
		mainLogger.Info("Stopping projector")

		return nil
	case err := <-projector.ErrorCh():
		mainLogger.Error("Pipeline failed", "err", err)

		return err
	case err := <-syncer.ErrorCh():
		mainLogger.Error("Block syncer failed", "err", err)

		return err
	}
}

// newSource returns the decoder matching the configured source and a constructor of its syncer.
func newSource(cfg *config.Config) (
	indexer.BlockDecoder, func(indexer.BlockSyncerHandler, hclog.Logger) indexer.BlockSyncer,
) {
	if cfg.Source.Kind == config.SourceKindOgmios {
		return ogmios.NewBlockDecoder(), func(handler indexer.BlockSyncerHandler, logger hclog.Logger) indexer.BlockSyncer {
			return ogmios.NewBlockSyncer(&cfg.Source.Ogmios, handler, logger)
		}
	}

	return gouroboros.NewBlockDecoder(), func(handler indexer.BlockSyncerHandler, logger hclog.Logger) indexer.BlockSyncer {
		return gouroboros.NewBlockSyncer(&cfg.Source.BlockSyncerConfig, handler, logger)
	}
}

func startMetricsServer(address string, m *metrics.Metrics, logger hclog.Logger) *http.Server {
	if address == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 10,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", address, "err", err)
		}
	}()

	logger.Info("Metrics server started", "addr", address)

	return server
}
