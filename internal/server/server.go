// Пакет server — HTTP-сервер archive-migrator с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/archive-migrator/internal/api/handlers"
	"github.com/bigkaa/archive-migrator/internal/api/middleware"
	"github.com/bigkaa/archive-migrator/internal/config"
)

const readHeaderTimeout = 10 * time.Second

// Routes — обработчики, подключаемые к роутеру.
type Routes struct {
	// Health — /health, /health/live, /health/ready, /metrics
	Health *handlers.HealthHandler
	// Webhook — приём Slack Events API; nil — endpoint не подключается
	Webhook http.Handler
	// Migration — операторский API; nil — /api/v1 не подключается
	Migration *handlers.MigrationHandler
	// Auth — JWT middleware для /api/v1; nil — авторизация отключена
	Auth func(http.Handler) http.Handler
}

// Server — HTTP-сервер archive-migrator.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// middlewares применяются ко всем маршрутам в порядке переданного среза.
func New(cfg *config.Config, logger *slog.Logger, routes Routes, middlewares ...func(http.Handler) http.Handler) *Server {
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           NewRouter(cfg.WebhookEndpoint, routes, middlewares...),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер.
func NewRouter(webhookEndpoint string, routes Routes, middlewares ...func(http.Handler) http.Handler) http.Handler {
	router := chi.NewRouter()
	for _, mw := range middlewares {
		router.Use(mw)
	}

	if routes.Health != nil {
		router.Get("/health", routes.Health.Health)
		router.Get("/health/live", routes.Health.HealthLive)
		router.Get("/health/ready", routes.Health.HealthReady)
		router.Get("/metrics", routes.Health.GetMetrics)
	}

	if routes.Webhook != nil {
		router.Method(http.MethodPost, webhookEndpoint, routes.Webhook)
	}

	if h := routes.Migration; h != nil {
		router.Route("/api/v1/migration", func(r chi.Router) {
			if routes.Auth != nil {
				r.Use(routes.Auth)
			}
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.ScopeRead))
				r.Get("/stats", h.Stats)
				r.Get("/files", h.ListFiles)
				r.Get("/files/{fileID}", h.GetFile)
				r.Get("/runs", h.ListRuns)
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.ScopeWrite))
				r.Post("/files/{fileID}/retry", h.RetryFile)
				r.Post("/retry-failed", h.RetryFailed)
				r.Post("/runs", h.StartRun)
			})
		})
	}

	return router
}

// Run запускает сервер и ожидает отмены ctx (SIGINT, SIGTERM в main).
// После отмены выполняется graceful shutdown с ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.String("webhook_endpoint", s.cfg.WebhookEndpoint),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
