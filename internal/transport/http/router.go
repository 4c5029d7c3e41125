package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"aichemist/internal/notify"
)

// RouterDeps bundles the handlers mounted on the local API
type RouterDeps struct {
	License *LicenseHandler
	Convert *ConvertHandler
	Hub     *notify.Hub
	Metrics http.Handler
	Logger  *slog.Logger
}

// HealthResponse is the GET /healthz body
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRouter assembles the local HTTP API served to the UI shell on loopback
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, HealthResponse{Status: "ok", Timestamp: time.Now()})
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	if deps.Hub != nil {
		r.Get("/ws", deps.Hub.ServeWS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Mount("/license", deps.License.Routes())
		r.Mount("/convert", deps.Convert.Routes())
	})

	return r
}

// requestLogger logs each request through slog rather than chi's default
// stdlib logger.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			logger.Info("http request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", chimiddleware.GetReqID(req.Context())))
		})
	}
}
