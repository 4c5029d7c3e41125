package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Licensing LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
	Trial     TrialConfig     `yaml:"trial" envconfig:"TRIAL"`
	Remote    RemoteConfig    `yaml:"remote" envconfig:"REMOTE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains the local HTTP API configuration consumed by the UI shell
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	ActivateRPS     float64       `yaml:"activate_rps" envconfig:"ACTIVATE_RPS"`
	ActivateBurst   int           `yaml:"activate_burst" envconfig:"ACTIVATE_BURST"`
}

// LicensingConfig controls local/remote license reconciliation.
// TTL and grace are policy knobs supplied by the distribution, not invariants.
type LicensingConfig struct {
	ValidationTTL      time.Duration `yaml:"validation_ttl" envconfig:"VALIDATION_TTL" validate:"gt=0"`
	OfflineGracePeriod time.Duration `yaml:"offline_grace_period" envconfig:"OFFLINE_GRACE_PERIOD" validate:"gte=0"`
	RevalidateInterval time.Duration `yaml:"revalidate_interval" envconfig:"REVALIDATE_INTERVAL" validate:"gt=0"`
	QueueFlushInterval time.Duration `yaml:"queue_flush_interval" envconfig:"QUEUE_FLUSH_INTERVAL" validate:"gt=0"`
	QueueMaxBackoff    time.Duration `yaml:"queue_max_backoff" envconfig:"QUEUE_MAX_BACKOFF" validate:"gt=0"`
}

// TrialConfig controls the free tier. The conversion ceiling and the free
// converter set ship as configuration because they vary per distribution.
type TrialConfig struct {
	MaxConversions   int      `yaml:"max_conversions" envconfig:"MAX_CONVERSIONS" validate:"gt=0"`
	MaxFileSizeBytes int64    `yaml:"max_file_size_bytes" envconfig:"MAX_FILE_SIZE_BYTES" validate:"gt=0"`
	FreeConverters   []string `yaml:"free_converters" envconfig:"FREE_CONVERTERS"`
}

// RemoteConfig selects and configures the license authority backend
type RemoteConfig struct {
	Backend string        `yaml:"backend" envconfig:"BACKEND" validate:"oneof=http sheets"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`

	// HTTP backend
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey  string `yaml:"api_key" envconfig:"API_KEY"`

	// Google Sheets backend
	SheetID        string `yaml:"sheet_id" envconfig:"SHEET_ID"`
	SheetAPIKey    string `yaml:"sheet_api_key" envconfig:"SHEET_API_KEY"`
	LicensesTab    string `yaml:"licenses_tab" envconfig:"LICENSES_TAB"`
	ActivationsTab string `yaml:"activations_tab" envconfig:"ACTIVATIONS_TAB"`
	UsageTab       string `yaml:"usage_tab" envconfig:"USAGE_TAB"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig overrides individual data file locations; empty values fall back
// to the OS app-data directory resolved by GetPaths.
type PathsConfig struct {
	DataDir     string `yaml:"data_dir" envconfig:"DATA_DIR"`
	LicenseFile string `yaml:"license_file" envconfig:"LICENSE_FILE"`
	TrialFile   string `yaml:"trial_file" envconfig:"TRIAL_FILE"`
	QueueFile   string `yaml:"queue_file" envconfig:"QUEUE_FILE"`
}

// Default returns the configuration every distribution starts from
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8532,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			ActivateRPS:     1,
			ActivateBurst:   5,
		},
		Licensing: LicensingConfig{
			ValidationTTL:      24 * time.Hour,
			OfflineGracePeriod: 24 * time.Hour,
			RevalidateInterval: time.Hour,
			QueueFlushInterval: 30 * time.Second,
			QueueMaxBackoff:    15 * time.Minute,
		},
		Trial: TrialConfig{
			MaxConversions:   50,
			MaxFileSizeBytes: 10 * 1024 * 1024,
			FreeConverters:   []string{"html-pdf", "xlsx-csv"},
		},
		Remote: RemoteConfig{
			Backend:        "http",
			Timeout:        5 * time.Second,
			BaseURL:        "https://licensing.aichemist.app/api/v1",
			LicensesTab:    "Licenses",
			ActivationsTab: "Activations",
			UsageTab:       "UsageLogs",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/aichemist.log",
		},
	}
}

// Load builds the configuration in three layers: built-in defaults, then the
// optional YAML file, then environment variables. Later layers win.
func Load() (*Config, error) {
	cfg := Default()

	if err := loadFile(configFilePath(), cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := envconfig.Process("AICHEMIST", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML config onto cfg if present; a missing file is
// not an error.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Trial.FreeConverters) == 0 {
		return fmt.Errorf("trial.free_converters must name at least one converter")
	}
	if c.Remote.Backend == "sheets" && c.Remote.SheetID == "" {
		return fmt.Errorf("remote.sheet_id is required for the sheets backend")
	}
	return nil
}

// resolvePaths fills in any path left empty with the OS app-data defaults
func (c *Config) resolvePaths() error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = paths.DataDir
	}
	if c.Paths.LicenseFile == "" {
		c.Paths.LicenseFile = paths.LicenseFile
	}
	if c.Paths.TrialFile == "" {
		c.Paths.TrialFile = paths.TrialFile
	}
	if c.Paths.QueueFile == "" {
		c.Paths.QueueFile = paths.QueueFile
	}
	return nil
}

// configFilePath returns the YAML config location, overridable for packaging
func configFilePath() string {
	if p := os.Getenv("AICHEMIST_CONFIG"); p != "" {
		return p
	}
	return "aichemist.yaml"
}
