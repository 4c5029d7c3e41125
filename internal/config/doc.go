// Package config provides centralized configuration management for AIChemist.
// It handles loading configuration from multiple sources, validation, and
// type-safe access to configuration values throughout the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables with the AICHEMIST_ prefix (highest priority)
//	2. A YAML configuration file ($AICHEMIST_CONFIG or ./aichemist.yaml)
//	3. Coded defaults from Default() (lowest priority)
//
// Defaults intentionally live in Default() rather than in envconfig default
// tags; envconfig applies tag defaults for every unset variable, which would
// overwrite values already loaded from the file.
//
// # Data Paths
//
// Per-user state (the activation record, trial ledger, upload queue and logs)
// lives under os.UserConfigDir()/AIChemist. GetPaths resolves the layout and
// EnsureDir creates directories with owner-only permissions.
package config
