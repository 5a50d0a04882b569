package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/handler"
)

// Router builds the HTTP handler with the middleware stack applied
func (d *Dependencies) Router() http.Handler {
	mux := http.NewServeMux()
	d.ImportHandler.Register(mux)

	obsCfg := d.Config.Observability
	var observer handler.RequestObserver
	if d.Metrics != nil {
		mux.Handle("GET "+obsCfg.MetricsPath, d.Metrics.Handler())
		observer = d.Metrics
	}

	srvCfg := d.Config.Server
	return handler.Chain(mux,
		handler.Recovery(d.Logger),
		handler.Logger(d.Logger, observer),
		handler.CORS(srvCfg.CORSOrigins),
		handler.NewRateLimiter(srvCfg.RateLimitPerSecond, srvCfg.RateLimitBurst).Middleware(),
	)
}

// Serve runs the HTTP server and the inbox scheduler until ctx is done, then
// shuts both down gracefully.
func (d *Dependencies) Serve(ctx context.Context) error {
	srvCfg := d.Config.Server
	server := &http.Server{
		Addr:              net.JoinHostPort(srvCfg.Host, strconv.Itoa(srvCfg.Port)),
		Handler:           d.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if d.Scheduler != nil {
		if err := d.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		d.Logger.Info("starting api server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		d.Logger.Info("shutting down server")
	case serveErr = <-errCh:
		if serveErr != nil {
			d.Logger.Error("api server failed", slog.Any("error", serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if d.Scheduler != nil {
		select {
		case <-d.Scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			d.Logger.Warn("inbox sweep still running at shutdown")
		}
	}

	d.Logger.Info("server exited")
	return serveErr
}
