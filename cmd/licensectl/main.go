package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"aichemist/internal/config"
	"aichemist/internal/gate"
	"aichemist/internal/infrastructure"
	"aichemist/internal/license"
	"aichemist/internal/remote"
	"aichemist/internal/security"
	"aichemist/internal/trial"
)

// Exit codes for subprocess callers. Business and validation failures carry a
// JSON error payload on stdout; only plumbing failures exit above 2.
const (
	exitOK       = 0
	exitBusiness = 1
	exitNotFound = 2
	exitInternal = 3
)

const usage = `licensectl manages the AIChemist license on this machine.

Usage:
  licensectl get-status
  licensectl activate <license-key>
  licensectl deactivate
  licensectl trial-reset    (development builds only)
`

type errorPayload struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return exitBusiness
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitInternal
	}
	// The CLI shares data files with the app but keeps its own quiet logs.
	cfg.Logging.Output = "file"

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "get-status":
		return getStatus(ctx, cfg, logger)
	case "activate":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: licensectl activate <license-key>")
			return exitBusiness
		}
		return activate(ctx, cfg, logger, args[1])
	case "deactivate":
		return deactivate(ctx, cfg, logger)
	case "trial-reset":
		return trialReset(cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		return exitBusiness
	}
}

// buildEngine wires the minimal engine the CLI needs. The upload queue and
// notification hub stay out; a one-shot process has no background workers.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*license.Service, *trial.Tracker, *gate.Gate, error) {
	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		return nil, nil, nil, err
	}

	var backend remote.Backend
	var err error
	if cfg.Remote.Backend == "sheets" {
		backend, err = remote.NewSheetsBackend(context.Background(), remote.SheetsConfig{
			APIKey:         cfg.Remote.SheetAPIKey,
			SheetID:        cfg.Remote.SheetID,
			LicensesTab:    cfg.Remote.LicensesTab,
			ActivationsTab: cfg.Remote.ActivationsTab,
			UsageTab:       cfg.Remote.UsageTab,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		backend = remote.NewHTTPBackend(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout, logger)
	}

	service := license.NewService(
		license.DefaultVerifier(),
		license.NewStore(cfg.Paths.LicenseFile, logger),
		backend,
		nil,
		security.NewFingerprintManager(),
		license.ServiceConfig{
			ValidationTTL:      cfg.Licensing.ValidationTTL,
			OfflineGracePeriod: cfg.Licensing.OfflineGracePeriod,
			RemoteTimeout:      cfg.Remote.Timeout,
		}, nil, logger)

	tracker, err := trial.NewTracker(trial.NewFileStore(cfg.Paths.TrialFile, logger), trial.Limits{
		MaxConversions:   cfg.Trial.MaxConversions,
		MaxFileSizeBytes: cfg.Trial.MaxFileSizeBytes,
		FreeConverters:   cfg.Trial.FreeConverters,
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	return service, tracker, gate.New(service, tracker, nil, logger), nil
}

func getStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	service, _, featureGate, err := buildEngine(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		return exitInternal
	}
	defer service.Stop()

	if _, err := service.ValidateOnStartup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "validation failed: %v\n", err)
		return exitInternal
	}
	return printJSON(featureGate.Status())
}

func activate(ctx context.Context, cfg *config.Config, logger *slog.Logger, key string) int {
	service, _, featureGate, err := buildEngine(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		return exitInternal
	}
	defer service.Stop()

	if err := service.Activate(ctx, key); err != nil {
		return printError(err)
	}
	return printJSON(struct {
		Success bool        `json:"success"`
		Status  gate.Status `json:"status"`
	}{true, featureGate.Status()})
}

func deactivate(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	service, _, _, err := buildEngine(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		return exitInternal
	}
	defer service.Stop()

	if _, err := service.ValidateOnStartup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "validation failed: %v\n", err)
		return exitInternal
	}
	if err := service.Deactivate(ctx); err != nil {
		return printError(err)
	}
	return printJSON(struct {
		Success bool `json:"success"`
	}{true})
}

func trialReset(cfg *config.Config, logger *slog.Logger) int {
	if os.Getenv("AICHEMIST_DEV") == "" {
		fmt.Fprintln(os.Stderr, "trial-reset is only available in development builds")
		return exitBusiness
	}
	_, tracker, _, err := buildEngine(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		return exitInternal
	}
	if err := tracker.DevReset(); err != nil {
		fmt.Fprintf(os.Stderr, "reset failed: %v\n", err)
		return exitInternal
	}
	return printJSON(struct {
		Success bool `json:"success"`
	}{true})
}

func printJSON(v interface{}) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitInternal
	}
	return exitOK
}

// printError emits the error payload on stdout and maps the stable code to
// the exit code contract.
func printError(err error) int {
	code := license.CodeOf(err)
	message := err.Error()
	var le *license.Error
	if errors.As(err, &le) {
		message = le.Message
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(errorPayload{Success: false, Code: code, Message: message})

	switch code {
	case license.CodeLicenseNotFound:
		return exitNotFound
	case license.CodeInternal:
		return exitInternal
	default:
		return exitBusiness
	}
}
