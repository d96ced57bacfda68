package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/defistate-pricing-go/cmd/pricer/config"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/pricer"
	"github.com/defistate/defistate-pricing-go/protocols/tokenpoolregistry"
	"github.com/defistate/defistate-pricing-go/statetracker"
	"github.com/defistate/defistate-pricing-go/verifier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const priceDecimals = 18

func main() {
	close := func() {
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		close()
	}
	level, _ := cfg.LogLevel()
	rootLogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	prometheusRegistry := prometheus.DefaultRegisterer

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := setupTracing()
		if err != nil {
			rootLogger.Error("Failed to initialize tracing", "error", err)
			close()
		}
		defer shutdown()
	}
	if cfg.Telemetry.MetricsAddr != "" {
		go serveMetrics(cfg.Telemetry.MetricsAddr, rootLogger)
	}

	if err := run(ctx, cfg, rootLogger, prometheusRegistry, os.Stdout); err != nil {
		rootLogger.Error("Pricing failed", "error", err)
		stop()
		close()
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, out io.Writer) error {
	snapshot, err := loadFixture(cfg.Pricer.FixturePath)
	if err != nil {
		return err
	}
	pairs, err := cfg.Pricer.PairList()
	if err != nil {
		return err
	}
	minLiquidity, err := cfg.Verifier.MinLiquidityRat()
	if err != nil {
		return err
	}

	infos := make([]engine.PoolPairInfo, 0, len(snapshot))
	for _, addr := range snapshot.Addresses() {
		info, err := snapshot[addr].Info()
		if err != nil {
			return err
		}
		infos = append(infos, info)
	}
	graph := tokenpoolregistry.NewTokenPoolSystem(cfg.Graph.CompactionThreshold, cfg.Graph.MaxHops)
	graph.AddPools(infos)
	logger.Info("Pool graph built", "pools", len(snapshot), "block", cfg.Pricer.Block)

	tracker, err := statetracker.NewTracker(&statetracker.TrackerConfig{
		Logger:   logger.With("component", "state-tracker"),
		Registry: reg,
	})
	if err != nil {
		return err
	}

	subgraphVerifier, err := verifier.NewSubgraphVerifier(&verifier.SubgraphVerifierConfig{
		StateTracker: tracker,
		Graph:        graph,
		Logger:       logger.With("component", "verifier"),
		Registry:     reg,
		MinLiquidity: minLiquidity,
		Workers:      cfg.Verifier.Workers,
		MaxIters:     cfg.Verifier.MaxIters,
	})
	if err != nil {
		return err
	}

	p, err := pricer.NewPricer(&pricer.PricerConfig{
		Graph:         graph,
		State:         tracker,
		Loader:        statetracker.NewSnapshotLoader(tracker, statetracker.StaticSource(snapshot)),
		Verifier:      subgraphVerifier,
		Logger:        logger.With("component", "pricer"),
		Registry:      reg,
		MaxRounds:     cfg.Pricer.MaxRounds,
		RundownAfter:  cfg.Verifier.RundownAfter,
		SplitFirstHop: cfg.Pricer.SplitFirstHop,
	})
	if err != nil {
		return err
	}

	prices, err := p.PriceBlock(ctx, cfg.Pricer.Block, pairs)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		price, ok := prices[pair]
		if !ok {
			fmt.Fprintf(out, "%s\t-\n", pair)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", pair, decimal.NewFromBigRat(price, priceDecimals).String())
	}

	kept, err := p.FinalizeBlock(cfg.Pricer.Block)
	if err != nil {
		return err
	}
	logger.Info("Block finalized", "block", cfg.Pricer.Block, "priced", len(prices), "pools_kept", len(kept))
	return nil
}

// setupTracing installs a tracer provider that writes spans to stderr, away
// from the prices on stdout.
func setupTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped", "addr", addr, "error", err)
	}
}

func loadConfig() (*config.Config, error) {
	configPath := flag.String("config", "", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %q", *configPath)
	return config.LoadConfig(*configPath)
}
