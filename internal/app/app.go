package app

import (
	"context"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"aichemist/internal/config"
	"aichemist/internal/converter"
	"aichemist/internal/gate"
	"aichemist/internal/infrastructure"
	"aichemist/internal/license"
	"aichemist/internal/notify"
	"aichemist/internal/remote"
	"aichemist/internal/security"
	"aichemist/internal/transport/http"
	"aichemist/internal/trial"
)

const Version = "1.0.0"

// Application is the dependency container for the licensing engine and the
// local API it serves to the UI shell.
type Application struct {
	Config   *config.Config
	Logger   *slog.Logger
	OTel     *infrastructure.OTelProviders
	Service  *license.Service
	Tracker  *trial.Tracker
	Gate     *gate.Gate
	Queue    *license.UploadQueue
	Hub      *notify.Hub
	Registry *converter.Registry
	Runner   *converter.Runner
	Server   *nethttp.Server
}

// NewApplication wires every component explicitly. Construction order follows
// the dependency chain; nothing here touches the network.
func NewApplication(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	metrics, err := license.NewMetrics()
	if err != nil {
		logger.Warn("metrics disabled", slog.String("error", err.Error()))
	}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	queue, err := license.NewUploadQueue(cfg.Paths.QueueFile, backend,
		cfg.Licensing.QueueFlushInterval, cfg.Licensing.QueueMaxBackoff, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload queue: %w", err)
	}

	verifier := license.DefaultVerifier()
	store := license.NewStore(cfg.Paths.LicenseFile, logger)
	fingerprint := security.NewFingerprintManager()

	service := license.NewService(verifier, store, backend, queue, fingerprint, license.ServiceConfig{
		ValidationTTL:      cfg.Licensing.ValidationTTL,
		OfflineGracePeriod: cfg.Licensing.OfflineGracePeriod,
		RemoteTimeout:      cfg.Remote.Timeout,
	}, metrics, logger)

	tracker, err := trial.NewTracker(trial.NewFileStore(cfg.Paths.TrialFile, logger), trial.Limits{
		MaxConversions:   cfg.Trial.MaxConversions,
		MaxFileSizeBytes: cfg.Trial.MaxFileSizeBytes,
		FreeConverters:   cfg.Trial.FreeConverters,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize trial tracker: %w", err)
	}

	featureGate := gate.New(service, tracker, metrics, logger)

	hub := notify.NewHub(logger)
	service.SetOnStateChange(hub.BroadcastLicenseState)

	registry := converter.NewRegistry()
	registry.Register(converter.NewHTMLToPDF())
	registry.Register(converter.NewXLSXToCSV())
	runner := converter.NewRunner(registry, featureGate, logger)

	licenseHandler := http.NewLicenseHandler(service, featureGate,
		rate.NewLimiter(rate.Limit(cfg.Server.ActivateRPS), cfg.Server.ActivateBurst), logger)
	convertHandler := http.NewConvertHandler(runner, registry, logger)

	router := http.NewRouter(http.RouterDeps{
		License: licenseHandler,
		Convert: convertHandler,
		Hub:     hub,
		Metrics: otelProviders.PrometheusHTTP,
		Logger:  logger,
	})

	server := &nethttp.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config:   cfg,
		Logger:   logger,
		OTel:     otelProviders,
		Service:  service,
		Tracker:  tracker,
		Gate:     featureGate,
		Queue:    queue,
		Hub:      hub,
		Registry: registry,
		Runner:   runner,
		Server:   server,
	}, nil
}

// newBackend selects the remote license authority adapter
func newBackend(cfg *config.Config, logger *slog.Logger) (remote.Backend, error) {
	switch cfg.Remote.Backend {
	case "sheets":
		return remote.NewSheetsBackend(context.Background(), remote.SheetsConfig{
			APIKey:         cfg.Remote.SheetAPIKey,
			SheetID:        cfg.Remote.SheetID,
			LicensesTab:    cfg.Remote.LicensesTab,
			ActivationsTab: cfg.Remote.ActivationsTab,
			UsageTab:       cfg.Remote.UsageTab,
		}, logger)
	default:
		return remote.NewHTTPBackend(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout, logger), nil
	}
}

// Run starts the engine: startup validation, background revalidation, queue
// worker, notification hub and the local API server. It blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	state, err := a.Service.ValidateOnStartup(ctx)
	if err != nil {
		a.Logger.Warn("startup validation failed",
			slog.String("error", err.Error()))
	}
	a.Logger.Info("startup validation complete",
		slog.String("state", string(state)))

	a.Hub.Start()
	a.Service.StartBackground(a.Config.Licensing.RevalidateInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Queue.Start(gctx)
		return nil
	})

	g.Go(func() error {
		a.Logger.Info("local API listening",
			slog.String("addr", a.Server.Addr),
			slog.String("version", Version))
		if err := a.Server.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown stops everything in reverse dependency order
func (a *Application) Shutdown() error {
	a.Logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Warn("server shutdown was not clean",
			slog.String("error", err.Error()))
	}
	a.Service.Stop()
	a.Hub.Stop()

	// One last flush so queued usage is not stranded until the next launch.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := a.Queue.Flush(flushCtx); err != nil {
		a.Logger.Debug("final queue flush incomplete",
			slog.String("error", err.Error()))
	}
	flushCancel()

	if err := a.OTel.Shutdown(ctx); err != nil {
		a.Logger.Warn("telemetry shutdown was not clean",
			slog.String("error", err.Error()))
	}
	return nil
}
