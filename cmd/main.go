package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/loctra/loctra/internal/config"
	"github.com/loctra/loctra/internal/dispatch"
	"github.com/loctra/loctra/internal/ops"
	"github.com/loctra/loctra/internal/provider"
	"github.com/loctra/loctra/internal/provider/pseudo"
	"github.com/loctra/loctra/internal/service"
	"github.com/loctra/loctra/internal/tm"
	"github.com/loctra/loctra/pkg/file"
	"github.com/loctra/loctra/pkg/log"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.GetLogger().SetLevel(log.ParseLevel(cfg.System.LogLevel))

	if err := run(context.Background(), cfg); err != nil {
		log.Fatal("%v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := file.EnsureDir(cfg.Store.DataDir); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if dbs, err := file.FindDatabases(cfg.Store.DataDir); err == nil && len(dbs) > 0 {
		log.Info("Found %d existing language-pair databases in %s", len(dbs), cfg.Store.DataDir)
	}

	dispatchers := make([]*dispatch.Dispatcher, 0, len(cfg.Store.TargetLangs))
	for _, target := range cfg.Store.TargetLangs {
		d, err := buildDispatcher(cfg, target)
		if err != nil {
			return fmt.Errorf("build %s→%s dispatcher: %w", cfg.Store.SourceLang, target, err)
		}
		dispatchers = append(dispatchers, d)
	}

	c := cron.New()
	svc := service.NewUpdateService(cfg.Dispatch.UpdateCronExpr, c, dispatchers)
	if err := svc.Schedule(ctx); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutting down")
	return nil
}

func buildDispatcher(cfg *config.Config, target language.Tag) (*dispatch.Dispatcher, error) {
	store, err := tm.NewStore(cfg.Store.DataDir, cfg.Store.SourceLang, target)
	if err != nil {
		return nil, err
	}

	manager := buildManager(cfg, store)
	providers := buildProviders(cfg, target)

	opts := []dispatch.Option{dispatch.WithMinQuality(cfg.Dispatch.MinQuality)}
	if cfg.System.RegressionMode {
		opts = append(opts, dispatch.WithRegressionGuids())
	}
	return dispatch.New(store, manager, providers, opts...)
}

func buildManager(cfg *config.Config, store *tm.Store) *ops.Manager {
	opts := []ops.ManagerOption{ops.WithCheckpoints(store)}
	if cfg.System.RegressionMode {
		opts = append(opts, ops.WithRegressionNaming())
	}
	return ops.NewManager(opts...)
}

func buildProviders(cfg *config.Config, target language.Tag) []provider.Provider {
	// the pseudo-localizer is the only built-in provider; SDK adapters
	// register here once integrated
	return []provider.Provider{
		pseudo.New(
			[]provider.Pair{{Source: cfg.Store.SourceLang, Target: target}},
			pseudo.WithLimits(provider.Limits{
				Parallelism: cfg.Dispatch.Parallelism,
				MaxBatch:    100,
			}),
		),
	}
}
