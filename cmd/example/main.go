package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/edr3x/ddotel"
)

var errSettlementNotFound = errors.New("settlement not found")

func main() {
	container := buildContainer()

	err := container.Invoke(func(tel *ddotel.Telemetry, srv *http.Server) error {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(ctx); err != nil {
				tel.Logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
		return serve(srv, tel.Logger)
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(ddotel.LoadConfig); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}

	// Observability
	if err := container.Provide(func(cfg *ddotel.Config) (*ddotel.Telemetry, error) {
		return ddotel.Init(context.Background(), cfg)
	}); err != nil {
		log.Fatalf("Failed to provide telemetry: %v", err)
	}
	if err := container.Provide(func(tel *ddotel.Telemetry) *ddotel.Middleware {
		return tel.Middleware()
	}); err != nil {
		log.Fatalf("Failed to provide middleware: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(newRouter); err != nil {
		log.Fatalf("Failed to provide router: %v", err)
	}
	if err := container.Provide(newServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

func newRouter(mw *ddotel.Middleware, tel *ddotel.Telemetry) http.Handler {
	h := &handler{logger: tel.Logger, metrics: tel.Metrics}

	router := chi.NewRouter()
	router.Use(ddotel.RequestID())

	router.Group(func(r chi.Router) {
		r.Use(mw.Handler)
		r.Get("/health", h.health)
	})

	// Error-returning handlers are wrapped individually so failures reach the span.
	router.Get("/api/v1/merchants/{merchantID}/settlements/{settlementID}", withErrors(mw.HandlerFunc(h.settlement)))

	return router
}

func newServer(router http.Handler) *http.Server {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func serve(srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	logger.Info("shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

type handler struct {
	logger  *zap.Logger
	metrics *ddotel.Metrics
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *handler) settlement(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "merchantID")
	settlementID := chi.URLParam(r, "settlementID")

	ddotel.RecordAuth(ctx, ddotel.AuthInfo{Method: "api_key", MerchantUUID: merchantID})

	ctx, span := ddotel.StartSpan(ctx)
	defer span.End()

	logger := ddotel.LoggerFromContext(ctx, h.logger)
	logger.Info("settlement requested", zap.String("settlement_id", settlementID))

	if settlementID == "missing" {
		return fmt.Errorf("lookup %s: %w", settlementID, errSettlementNotFound)
	}

	h.metrics.Count(ctx, "settlements.viewed", 1, attribute.String("merchant", merchantID))
	writeJSON(w, http.StatusOK, map[string]string{
		"merchant":   merchantID,
		"settlement": settlementID,
	})
	return nil
}

// withErrors adapts an error-returning handler to chi, answering failures
// with a status derived from the error.
func withErrors(fn ddotel.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		switch {
		case err == nil:
		case errors.Is(err, errSettlementNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
