package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"aichemist/internal/converter"
	apierrors "aichemist/internal/errors"
)

// ConvertHandler exposes the converters to the UI shell. Paths are local
// because the shell and the engine share a filesystem.
type ConvertHandler struct {
	runner   *converter.Runner
	registry *converter.Registry
	logger   *slog.Logger
}

// NewConvertHandler creates a convert handler
func NewConvertHandler(runner *converter.Runner, registry *converter.Registry, logger *slog.Logger) *ConvertHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConvertHandler{
		runner:   runner,
		registry: registry,
		logger:   logger.With(slog.String("handler", "convert")),
	}
}

// ConvertRequest is the POST /api/convert payload
type ConvertRequest struct {
	Converter  string `json:"converter" validate:"required"`
	InputPath  string `json:"input_path" validate:"required"`
	OutputPath string `json:"output_path" validate:"required"`
}

// Bind implements render.Binder
func (c *ConvertRequest) Bind(r *http.Request) error {
	if err := validate.Struct(c); err != nil {
		return errors.New("converter, input_path and output_path are required")
	}
	return nil
}

// ConvertResponse is the POST /api/convert success body
type ConvertResponse struct {
	Success    bool   `json:"success"`
	Converter  string `json:"converter"`
	OutputPath string `json:"output_path"`
	DurationMS int64  `json:"duration_ms"`
}

// ConvertersResponse lists the registered converters
type ConvertersResponse struct {
	Converters []string `json:"converters"`
}

// Routes returns the chi router for /api/convert
func (h *ConvertHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Get("/", h.List)
	r.Post("/", h.Convert)
	return r
}

// List handles GET /api/convert
func (h *ConvertHandler) List(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ConvertersResponse{Converters: h.registry.Names()})
}

// Convert handles POST /api/convert
func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	var req ConvertRequest
	if err := render.Bind(r, &req); err != nil {
		apierrors.RenderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	start := time.Now()
	if err := h.runner.Run(ctx, req.Converter, req.InputPath, req.OutputPath); err != nil {
		h.logger.WarnContext(ctx, "conversion request failed",
			slog.String("request_id", reqID),
			slog.String("converter", req.Converter),
			slog.String("error", err.Error()))
		apierrors.RenderError(w, r, apierrors.FromLicenseError(err))
		return
	}

	render.JSON(w, r, ConvertResponse{
		Success:    true,
		Converter:  req.Converter,
		OutputPath: req.OutputPath,
		DurationMS: time.Since(start).Milliseconds(),
	})
}
