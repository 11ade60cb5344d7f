package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/webscope-ai/domain-analyzer/aiclient"
	"github.com/webscope-ai/domain-analyzer/common"
	"github.com/webscope-ai/domain-analyzer/control"
	"github.com/webscope-ai/domain-analyzer/metrics"
	"github.com/webscope-ai/domain-analyzer/model"
	"github.com/webscope-ai/domain-analyzer/pipeline"
	"github.com/webscope-ai/domain-analyzer/policy"
	"github.com/webscope-ai/domain-analyzer/rotation"
	"github.com/webscope-ai/domain-analyzer/scheduler"
	"github.com/webscope-ai/domain-analyzer/store"
)

var (
	configPath  string
	exitOnEmpty bool
)

func main() {
	// Missing .env is fine; real deployments use environment variables.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "domain-analyzer",
		Short: "Two-stage AI website classification orchestrator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the analysis worker pool",
		RunE:  runAnalyzer,
	}
	runCmd.Flags().BoolVar(&exitOnEmpty, "exit-on-empty", false, "Stop once the queue drains")

	seedCmd := &cobra.Command{
		Use:   "seed [domains file]",
		Short: "Enqueue pending tasks from a domains file",
		Args:  cobra.ExactArgs(1),
		RunE:  seedTasks,
	}

	root.AddCommand(runCmd, seedCmd)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func runAnalyzer(cmd *cobra.Command, args []string) error {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxies, err := common.LoadProxies(cfg.ProxyFile)
	if err != nil {
		return err
	}
	keys, err := common.LoadAPIKeys(cfg.KeyFile)
	if err != nil {
		return err
	}
	rotator, err := rotation.NewRotator(proxies, keys)
	if err != nil {
		return err
	}

	src, err := store.NewPostgresStore(ctx, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer src.Close()

	pol := policy.New(policy.Config{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		BaseDelay:       cfg.Retry.BaseDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		BackoffMultiple: cfg.Retry.BackoffMultiple,
		RateLimitFreeze: cfg.Retry.RateLimitFreeze,
		PaceMin:         cfg.Retry.PaceMin,
		PaceMax:         cfg.Retry.PaceMax,
	}, rotator)

	client := aiclient.NewHTTPClient(aiclient.Timeouts{
		Total:   cfg.Timeouts.Total,
		Read:    cfg.Timeouts.Read,
		Connect: cfg.Timeouts.Connect,
	})

	pipe := pipeline.New(client, rotator, pol, src,
		pipeline.StageConfig{
			Models:        cfg.Stage1.Models,
			RetryModel:    cfg.Stage1.RetryModel,
			FallbackAfter: cfg.Stage1.FallbackAfter,
		},
		pipeline.StageConfig{
			Models:        cfg.Stage2.Models,
			RetryModel:    cfg.Stage2.RetryModel,
			FallbackAfter: cfg.Stage2.FallbackAfter,
		},
	)

	if cfg.MetricsAddr != "" {
		metrics.Serve(cfg.MetricsAddr)
	}

	pool := scheduler.NewPool(src, pipe, buildControl(cfg), scheduler.Options{
		Concurrency: cfg.Concurrency,
		ExitOnEmpty: exitOnEmpty,
	})

	if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("Analyzer shut down")
	return nil
}

// buildControl picks the run-control backend: Redis when configured, else the
// control file, else always-on.
func buildControl(cfg *common.Config) control.RunControl {
	if cfg.Redis.Addr != "" && cfg.Control.RedisKey != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		log.Info().Str("key", cfg.Control.RedisKey).Msg("Using Redis run control")
		return control.NewRedisControl(client, cfg.Control.RedisKey, cfg.Control.Interval)
	}
	if cfg.Control.File != "" {
		log.Info().Str("file", cfg.Control.File).Msg("Using file run control")
		return control.NewFileControl(cfg.Control.File, cfg.Control.Interval)
	}
	return control.AlwaysEnabled{}
}

// seedTasks reads "domain[,segment hint]" lines and enqueues pending tasks.
func seedTasks(cmd *cobra.Command, args []string) error {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx := context.Background()
	src, err := store.NewPostgresStore(ctx, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening domains file: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domain, hint, _ := strings.Cut(line, ",")
		domain = strings.TrimSpace(domain)
		task := &model.DomainTask{
			ID:          uuid.NewString(),
			Domain:      domain,
			TargetURI:   "https://" + domain,
			SegmentHint: strings.TrimSpace(hint),
		}
		if err := src.Enqueue(ctx, task); err != nil {
			return err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading domains file: %w", err)
	}

	log.Info().Int("count", count).Msg("Tasks enqueued")
	return nil
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
