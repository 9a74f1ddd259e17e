package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aqiexplain/internal/config"
	"aqiexplain/internal/database"
	"aqiexplain/internal/explainer"
	"aqiexplain/internal/logging"
	"aqiexplain/internal/metrics"
	"aqiexplain/internal/server"
	"aqiexplain/internal/stream"
)

const shutdownTimeout = 10 * time.Second

var (
	submitFile      string
	submitRequestID string
	resultsCount    int64
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a request to the worker's request stream",
	Example: `  aqiexplain submit --file request.yaml
  aqiexplain submit --file request.json --request-id station-7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readRequest(submitFile, cmd.InOrStdin())
		if err != nil {
			return explainError(err)
		}

		client := newRedisClient(cfg.Redis)
		defer client.Close()

		requestID, msgID, err := stream.NewProducer(client, cfg.Redis).Publish(cmd.Context(), submitRequestID, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "submitted request %s as message %s\n", requestID, msgID)
		return nil
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Print the newest results from the result stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newRedisClient(cfg.Redis)
		defer client.Close()

		results, err := stream.NewProducer(client, cfg.Redis).Results(cmd.Context(), resultsCount)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Explain requests from the Redis request stream",
	Long: `Run the stream worker. Requests are read from the configured consumer
group, explained, and one result per request is published to the result
stream. Successful assessments are archived to MySQL when the database is
enabled. Health and Prometheus metrics are served on the ops address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWorker(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd, resultsCmd, workerCmd)

	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "-", "Request file, - for stdin")
	submitCmd.Flags().StringVar(&submitRequestID, "request-id", "", "Request id, generated when empty")
	resultsCmd.Flags().Int64VarP(&resultsCount, "count", "n", 10, "Number of results to print")
}

func newRedisClient(rc config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewRecorder(reg)

	exp := explainer.New(
		explainer.WithLogger(logging.Component(logger, "explainer")),
		explainer.WithObserver(rec),
		explainer.WithSmoothingWindow(cfg.Engine.SmoothingWindow),
	)

	client := newRedisClient(cfg.Redis)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	workerOpts := []stream.Option{
		stream.WithMetrics(rec),
		stream.WithLogger(logging.Component(logger, "worker")),
		stream.WithConcurrency(cfg.Worker.Concurrency),
	}
	serverOpts := []server.Option{server.WithLogger(logging.Component(logger, "ops"))}

	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database, rec)
		if err != nil {
			return err
		}
		defer db.Close()

		archive := database.NewGuardedArchive(db, cfg.Archive.BreakerMaxFailures, cfg.Archive.BreakerTimeout,
			logging.Component(logger, "archive"))
		workerOpts = append(workerOpts, stream.WithArchive(archive))
		serverOpts = append(serverOpts, server.WithArchive(db))
		logger.Info().Msg("assessment archive enabled")
	}

	w := stream.NewWorker(client, exp, cfg.Redis, workerOpts...)
	if err := w.EnsureGroup(ctx); err != nil {
		return err
	}

	srv := server.NewServer(reg, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(cfg.Ops.Addr) })
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
