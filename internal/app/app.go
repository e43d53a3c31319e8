package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"card-price-sync/internal/alerting"
	"card-price-sync/internal/config"
	"card-price-sync/internal/fetcher"
	"card-price-sync/internal/logging"
	"card-price-sync/internal/ops"
	"card-price-sync/internal/ratelimit"
	"card-price-sync/internal/scheduler"
	"card-price-sync/internal/service"
	"card-price-sync/internal/storage"
	"card-price-sync/internal/storage/memory"
	"card-price-sync/internal/storage/sqlite"
	"card-price-sync/internal/upstream"
	"card-price-sync/internal/version"
)

// Upstream service names; each gets its own interval gate.
const (
	servicePricing  = "pricing"
	serviceCatalog  = "catalog"
	serviceDecklist = "decklist"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output.
	Out io.Writer

	limiter *ratelimit.Limiter
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logging.Component(logger, "app"),
		Out:     os.Stdout,
		limiter: ratelimit.New(logger),
	}
}

func (a *App) newCaller(service string, cfg config.UpstreamConfig) *upstream.Caller {
	return upstream.NewCaller(upstream.Policy{
		Service:            service,
		MinInterval:        cfg.MinInterval,
		NetworkAttempts:    cfg.Retry.NetworkAttempts,
		RateLimitAttempts:  cfg.Retry.RateLimitAttempts,
		RateLimitBaseDelay: cfg.Retry.RateLimitBaseDelay,
		MaxDelay:           cfg.Retry.MaxDelay,
		BreakerFailures:    cfg.Retry.BreakerFailures,
		BreakerCooldown:    cfg.Retry.BreakerCooldown,
	}, a.limiter, a.Logger)
}

func userAgent(cfg config.UpstreamConfig) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}
	return version.UserAgent()
}

func (a *App) newPriceFetcher() *fetcher.PriceService {
	cfg := a.Config.Pricing
	client := fetcher.NewPriceClient(servicePricing, fetcher.PriceOptions{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		UserAgent: userAgent(cfg),
	})
	return fetcher.NewPriceService(client, a.newCaller(servicePricing, cfg), cfg.CacheTTL, a.Logger)
}

func (a *App) newResolver() *fetcher.CatalogResolver {
	cfg := a.Config.Catalog
	return fetcher.NewCatalogResolver(fetcher.CatalogOptions{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		UserAgent: userAgent(cfg),
		CacheTTL:  cfg.CacheTTL,
	}, a.newCaller(serviceCatalog, cfg), a.Logger)
}

func (a *App) newDecklist() *fetcher.DecklistFetcher {
	cfg := a.Config.Decklist
	return fetcher.NewDecklistFetcher(fetcher.DecklistOptions{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		UserAgent: userAgent(cfg),
	}, a.newCaller(serviceDecklist, cfg), a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Notify.Telegram
	if !cfg.Enabled {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, timeout, a.Logger)
}

func (a *App) newDetector(repo storage.Repository, now func() time.Time) *alerting.Detector {
	cfg := a.Config.Alerts
	return alerting.NewDetector(repo, repo, repo, alerting.DetectorOptions{
		IncreasePct: cfg.IncreasePct,
		DecreasePct: cfg.DecreasePct,
		DedupWindow: cfg.DedupWindow,
		Lookback:    cfg.Lookback,
		Now:         now,
	}, a.Logger)
}

func (a *App) newScheduler() *scheduler.Scheduler {
	cfg := a.Config.Scheduler
	return scheduler.New(scheduler.Options{
		Interval:     cfg.Interval,
		AlignToStart: cfg.AlignToBucket,
		StartupDelay: cfg.StartupDelay,
		RetryDelay:   cfg.RetryDelay,
		MaxRetries:   cfg.MaxRetries,
		Retryable:    service.IsRetryable,
	}, a.Logger)
}

// newService wires the orchestrator over repo. prices overrides the
// configured pricing client when non-nil.
func (a *App) newService(repo storage.Repository, prices fetcher.PriceFetcher, sched *scheduler.Scheduler) (*service.Service, error) {
	opts, err := service.OptionsFromConfig(a.Config)
	if err != nil {
		return nil, err
	}
	if prices == nil {
		prices = a.newPriceFetcher()
	}

	deps := service.Dependencies{
		Scheduler:    sched,
		Prices:       prices,
		WorkingSet:   repo,
		Observations: repo,
		Detector:     a.newDetector(repo, nil),
		Notifier:     a.newNotifier(),
	}
	if locker, ok := repo.(storage.AdvisoryLocker); ok {
		deps.Locker = locker
	}
	return service.New(opts, deps, a.Logger), nil
}

func (a *App) openRepository(ctx context.Context) (storage.Repository, func(), error) {
	cfg := a.Config.Database
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := storage.OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case config.DriverMemory:
		a.Logger.Warn().Msg("database.driver is memory; observations are lost on exit")
		return memory.NewStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported database.driver %q", cfg.Driver)
}

// Run executes the long-running sync daemon: the scheduler and, when
// configured, the ops server.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	svc, err := a.newService(repo, nil, a.newScheduler())
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	if addr := a.Config.Ops.Listen; addr != "" {
		srv := ops.NewServer(addr, a.Logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("starting price sync service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price sync service stopped")
	return nil
}

// Sync runs one batch pass immediately.
func (a *App) Sync(ctx context.Context) (service.Summary, error) {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return service.Summary{}, err
	}
	defer closeRepo()

	svc, err := a.newService(repo, nil, nil)
	if err != nil {
		return service.Summary{}, err
	}
	return svc.SyncAll(ctx)
}

// SyncCard fetches and persists a single card regardless of the same-day filter.
func (a *App) SyncCard(ctx context.Context, cardID string) (*storage.PriceObservation, error) {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	defer closeRepo()

	svc, err := a.newService(repo, nil, nil)
	if err != nil {
		return nil, err
	}
	return svc.SyncCard(ctx, cardID)
}

// Migrate applies the schema of the configured backend.
func (a *App) Migrate(ctx context.Context) error {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	closeRepo()
	if _, ok := repo.(*memory.Store); ok {
		a.Logger.Info().Msg("memory driver has no schema")
		return nil
	}
	a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("schema up to date")
	return nil
}
