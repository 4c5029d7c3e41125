package converter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"aichemist/internal/gate"
)

// Converter is one document converter. Implementations are thin wrappers
// around external tools; authorization and usage accounting live in the gate,
// never in the converters themselves.
type Converter interface {
	Name() string
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// Registry holds the available converters by name
type Registry struct {
	mu         sync.RWMutex
	converters map[string]Converter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{converters: make(map[string]Converter)}
}

// Register adds a converter; a duplicate name replaces the previous entry
func (r *Registry) Register(c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[c.Name()] = c
}

// Get returns the named converter
func (r *Registry) Get(name string) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[name]
	return c, ok
}

// Names lists registered converter names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.converters))
	for name := range r.converters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner executes conversions through the feature gate. Every run passes
// Authorize before touching the input and Report afterward, on success and
// failure alike.
type Runner struct {
	registry *Registry
	gate     *gate.Gate
	logger   *slog.Logger
}

// NewRunner creates a runner bound to the gate
func NewRunner(registry *Registry, g *gate.Gate, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: registry,
		gate:     g,
		logger:   logger.With(slog.String("component", "converter_runner")),
	}
}

// Run converts inputPath to outputPath with the named converter
func (r *Runner) Run(ctx context.Context, name, inputPath, outputPath string) error {
	conv, ok := r.registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown converter %q", name)
	}

	info, err := os.Stat(inputPath)
	if err != nil {
		return fmt.Errorf("failed to stat input file: %w", err)
	}

	grant, err := r.gate.Authorize(ctx, name, info.Size())
	if err != nil {
		return err
	}

	convErr := conv.Convert(ctx, inputPath, outputPath)
	r.gate.Report(ctx, grant, convErr == nil)

	if convErr != nil {
		r.logger.ErrorContext(ctx, "conversion failed",
			slog.String("converter", name),
			slog.String("input", inputPath),
			slog.String("error", convErr.Error()))
		return fmt.Errorf("%s conversion failed: %w", name, convErr)
	}

	r.logger.InfoContext(ctx, "conversion completed",
		slog.String("converter", name),
		slog.String("input", inputPath),
		slog.String("output", outputPath),
		slog.Int64("file_size", info.Size()))
	return nil
}
