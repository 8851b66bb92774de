// Command server runs the streaming gateway, wiring configuration,
// logging, the Redis pools, and the HTTP surface together the way the
// orchestrator's cmd/gateway/main.go wires its own dependencies:
// build the logger first, fail fast on bad config, then construct
// collaborators bottom-up before binding a listener.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fa-sharp/streamgate/internal/config"
	"github.com/fa-sharp/streamgate/internal/controller"
	"github.com/fa-sharp/streamgate/internal/httpapi"
	"github.com/fa-sharp/streamgate/internal/logging"
	"github.com/fa-sharp/streamgate/internal/metrics"
	"github.com/fa-sharp/streamgate/internal/pool"
	"github.com/fa-sharp/streamgate/internal/token"
)

func main() {
	if err := run(); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	development := os.Getenv("ENVIRONMENT") == "development"
	logger, err := logging.New(cfg.LogLevel, development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	staticClient, err := pool.NewStatic(cfg.RedisURL, cfg.RedisPool)
	if err != nil {
		return err
	}
	defer staticClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := staticClient.Ping(pingCtx).Err(); err != nil {
		return err
	}

	exclPool := pool.NewExclusive(cfg.RedisURL, cfg.MaxClients, logger)
	defer exclPool.Shutdown()

	tokenSvc, err := token.New(cfg.SecretKeyBytes())
	if err != nil {
		return err
	}

	ctrl := controller.New(staticClient, cfg.TTL, logger)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, func() float64 { return float64(exclPool.InUse()) })

	srv := httpapi.New(cfg, logger, ctrl, tokenSvc, exclPool, m, reg)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	httpServer := &http.Server{
		Addr:              addrFromServerURL(cfg.ServerAddress),
		Handler:           corsMiddleware(srv.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	// Every request context derives from baseCtx; cancelling it when
	// Shutdown starts ends the SSE and WebSocket consumer loops and their
	// tail goroutines instead of leaving Shutdown to wait on them.
	httpServer.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// addrFromServerURL extracts a ":port"-style listen address from the
// configured public server_address, falling back to :8080 when the
// value isn't a full URL (e.g. in local development). A PORT
// environment variable, when set, always wins.
func addrFromServerURL(serverAddress string) string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	if u, err := url.Parse(serverAddress); err == nil && u.Port() != "" {
		return ":" + u.Port()
	}
	return ":8080"
}

// corsMiddleware allows the streaming routes' required headers
// (Last-Event-ID for SSE resumption, X-API-KEY, Authorization) across
// origins, mirroring the orchestrator's own streaming-aware CORS
// handling in cmd/gateway/main.go.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-KEY, Authorization, Last-Event-ID")
		w.Header().Set("Access-Control-Expose-Headers", "Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
