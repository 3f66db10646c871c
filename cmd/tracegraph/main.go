package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/tracegraph/internal/adapters/duckdb"
	"github.com/manthysbr/tracegraph/internal/config"
	"github.com/manthysbr/tracegraph/internal/core/services"
	"github.com/manthysbr/tracegraph/pkg/api"
)

const version = "0.1.0"

func main() {
	app := &cli.Command{
		Name:    "tracegraph",
		Usage:   "trace topology aggregation engine",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
		},
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the aggregated call-graph API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to YAML config file"},
			&cli.StringFlag{Name: "db", Usage: "DuckDB database path (overrides config)"},
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			if v := cmd.String("db"); v != "" {
				cfg.DBPath = v
			}
			if v := cmd.String("addr"); v != "" {
				cfg.ListenAddr = v
			}
			return run(ctx, logger, cfg)
		},
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	store, err := duckdb.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init span store: %w", err)
	}
	defer store.Close() //nolint:errcheck

	costs := services.NewCostModel(cfg.Pricing)
	planner := services.NewPlanner(cfg.PrecomputedMinHours, costs)
	engine := services.NewGraphEngine(logger, store, planner)
	session := services.NewGraphSession(logger, engine, cfg.DefaultDataset, cfg.DefaultTimeRangeHours)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	apiServer := api.NewServer(logger, session)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting graph api server", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
