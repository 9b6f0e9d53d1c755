// Command ppdo-reindex rebuilds the search index from the PPDO source
// tables once and prints the run summary as JSON. It exits 1 when any
// record failed to index.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/config"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/search"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/storage/postgres"
)

// Options holds the command line settings.
type Options struct {
	DatabaseURL string
	RedisURL    string
	Types       string
	Prune       bool
	Workers     int
	Concurrency int
	BatchSize   int
	Timeout     time.Duration
	LogLevel    string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}

	logger := setupLogger(opts.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code, err := run(ctx, opts, os.Stdout, logger)
	if err != nil {
		logger.WithError(err).Error("Reindex failed")
	}
	os.Exit(code)
}

func parseFlags(args []string) (*Options, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}

	opts := &Options{}
	fs := flag.NewFlagSet("ppdo-reindex", flag.ContinueOnError)
	fs.StringVar(&opts.DatabaseURL, "db", cfg.Storage.DatabaseURL, "PostgreSQL connection URL (PPDO_DATABASE_URL)")
	fs.StringVar(&opts.RedisURL, "redis", cfg.Storage.RedisURL, "Redis URL whose counts cache is invalidated after the run (PPDO_REDIS_URL)")
	fs.StringVar(&opts.Types, "types", "", "Comma-separated entity types to reindex (default: all)")
	fs.BoolVar(&opts.Prune, "prune", cfg.Reindex.Prune, "Remove index records whose source no longer exists")
	fs.IntVar(&opts.Workers, "workers", cfg.Reindex.Workers, "Records indexed concurrently per type")
	fs.IntVar(&opts.Concurrency, "concurrency", cfg.Reindex.Concurrency, "Entity types walked concurrently")
	fs.IntVar(&opts.BatchSize, "batch-size", cfg.Reindex.BatchSize, "Records submitted per batch")
	fs.DurationVar(&opts.Timeout, "timeout", cfg.Reindex.Timeout, "Maximum run time")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// parseTypes turns a comma-separated list into entity types. Empty means all.
func parseTypes(list string) ([]search.EntityType, error) {
	var types []search.EntityType
	for _, v := range strings.Split(list, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		t, err := search.ParseEntityType(v)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func run(ctx context.Context, opts *Options, out io.Writer, logger *logrus.Logger) (int, error) {
	if opts.DatabaseURL == "" {
		return 2, errors.New("a database URL is required (-db or PPDO_DATABASE_URL)")
	}
	types, err := parseTypes(opts.Types)
	if err != nil {
		return 2, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// Library components log JSON to stderr; the CLI's own messages go through logrus.
	libLogger := observability.NewLogger(observability.WarnLevel, os.Stderr)

	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL: opts.DatabaseURL,
		MaxConns:   opts.Workers + 2,
	}, libLogger)
	if err != nil {
		return 1, err
	}
	defer conns.Close()

	if err := postgres.Migrate(ctx, conns.Primary()); err != nil {
		return 1, err
	}

	indexer := search.NewIndexer(postgres.NewIndexStore(conns), search.WithIndexerLogger(libLogger))
	reindexer := search.NewReindexer(indexer, postgres.NewSourceReader(conns),
		search.WithReindexLogger(libLogger),
		search.WithReindexWorkers(opts.Workers, opts.Concurrency),
		search.WithReindexBatchSize(opts.BatchSize),
	)

	logger.WithFields(logrus.Fields{"types": opts.Types, "prune": opts.Prune}).Info("Starting reindex")
	code, err := reindex(ctx, reindexer, search.ReindexOptions{Types: types, Prune: opts.Prune, Trigger: "cli"}, out)
	if err != nil {
		return code, err
	}

	if opts.RedisURL != "" {
		invalidateCounts(ctx, opts.RedisURL, logger)
	}
	if code != 0 {
		logger.Warn("Reindex finished with failures")
	} else {
		logger.Info("Reindex finished")
	}
	return code, nil
}

// reindex runs one backfill, writes the summary to out and maps it to an
// exit code.
func reindex(ctx context.Context, reindexer *search.Reindexer, opts search.ReindexOptions, out io.Writer) (int, error) {
	summary, err := reindexer.Run(ctx, opts)
	if err != nil {
		return 1, err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return 1, fmt.Errorf("failed to write summary: %w", err)
	}
	if !summary.OK() {
		return 1, nil
	}
	return 0, nil
}

// invalidateCounts bumps the counts cache generation so running servers
// stop serving counts computed before the run.
func invalidateCounts(ctx context.Context, url string, logger *logrus.Logger) {
	counts, err := postgres.NewRedisClient(postgres.RedisConfig{URL: url})
	if err != nil {
		logger.WithError(err).Warn("Could not connect to the counts cache; cached counts expire on their TTL")
		return
	}
	defer counts.Close()
	if err := counts.Bump(ctx); err != nil {
		logger.WithError(err).Warn("Failed to invalidate the counts cache")
	}
}
