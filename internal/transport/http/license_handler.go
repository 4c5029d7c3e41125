package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	apierrors "aichemist/internal/errors"
	"aichemist/internal/gate"
	"aichemist/internal/license"
)

var validate = validator.New()

// LicenseHandler exposes the activation lifecycle to the UI shell
type LicenseHandler struct {
	service *license.Service
	gate    *gate.Gate
	logger  *slog.Logger

	// Activation hits the remote backend, so it is rate limited; brute
	// forcing key guesses through the local API should be pointless anyway
	// given the signature check, but the backend deserves the courtesy.
	activateLimiter *rate.Limiter
}

// NewLicenseHandler creates a license handler
func NewLicenseHandler(service *license.Service, g *gate.Gate, limiter *rate.Limiter, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(1), 5)
	}
	return &LicenseHandler{
		service:         service,
		gate:            g,
		logger:          logger.With(slog.String("handler", "license")),
		activateLimiter: limiter,
	}
}

// ActivationRequest is the POST /activate payload
type ActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=16"`
}

// Bind implements render.Binder
func (a *ActivationRequest) Bind(r *http.Request) error {
	a.LicenseKey = strings.TrimSpace(a.LicenseKey)
	if err := validate.Struct(a); err != nil {
		return errors.New("license_key is required")
	}
	if !strings.HasPrefix(a.LicenseKey, license.KeyPrefix+":") {
		return errors.New("license key must start with " + license.KeyPrefix + ":")
	}
	return nil
}

// ActivationResponse is the POST /activate success body
type ActivationResponse struct {
	Success     bool        `json:"success"`
	State       string      `json:"state"`
	Status      gate.Status `json:"status"`
	ActivatedAt time.Time   `json:"activated_at"`
}

// StatusResponse is the GET /status body
type StatusResponse struct {
	Status    gate.Status `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// Routes returns the chi router for /api/license
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/status", h.GetStatus)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	return r
}

// GetStatus handles GET /api/license/status. It answers from the cached
// snapshot and never blocks on the network.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, StatusResponse{
		Status:    h.gate.Status(),
		Timestamp: time.Now(),
	})
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	if !h.activateLimiter.Allow() {
		apierrors.RenderError(w, r, apierrors.ErrRateLimitExceeded)
		return
	}

	var req ActivationRequest
	if err := render.Bind(r, &req); err != nil {
		apierrors.RenderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	tracer := otel.Tracer("license-handler")
	ctx, span := tracer.Start(ctx, "license_handler.activate",
		trace.WithAttributes(
			attribute.String("request_id", reqID),
			attribute.String("license_key", license.MaskKey(req.LicenseKey)),
		),
	)
	defer span.End()

	start := time.Now()
	err := h.service.Activate(ctx, req.LicenseKey)
	span.SetAttributes(
		attribute.Int64("request.latency_ms", time.Since(start).Milliseconds()),
		attribute.Bool("request.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "activation failed",
			slog.String("request_id", reqID),
			slog.String("license_key", license.MaskKey(req.LicenseKey)),
			slog.String("code", license.CodeOf(err)))
		apierrors.RenderError(w, r, apierrors.FromLicenseError(err))
		return
	}

	state, _ := h.service.Snapshot()
	h.logger.InfoContext(ctx, "activation succeeded",
		slog.String("request_id", reqID),
		slog.String("license_key", license.MaskKey(req.LicenseKey)),
		slog.String("state", string(state)))
	render.JSON(w, r, ActivationResponse{
		Success:     true,
		State:       string(state),
		Status:      h.gate.Status(),
		ActivatedAt: time.Now(),
	})
}

// Deactivate handles POST /api/license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Deactivate(ctx); err != nil {
		apierrors.RenderError(w, r, apierrors.FromLicenseError(err))
		return
	}
	render.JSON(w, r, StatusResponse{
		Status:    h.gate.Status(),
		Timestamp: time.Now(),
	})
}
