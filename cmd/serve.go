package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stockdispatch/internal/bootstrap"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/metrics"
	"stockdispatch/internal/transport/httpapi"
	"stockdispatch/internal/usecase/dispatch"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dispatch pipeline over HTTP",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *dispatch.Service) error {
		addr := strings.TrimSpace(serveAddr)
		if addr == "" {
			addr = app.Config.HTTP.Addr
		}

		opts := []httpapi.Option{httpapi.WithHealthCheck(app.Ping)}
		if app.Config.Metrics.Enabled {
			opts = append(opts, httpapi.WithMetrics(metrics.Handler(app.Metrics)))
		}
		ctx := logging.WithAttrs(cmd.Context(), slog.String("component", "http"))
		server := &http.Server{
			Addr:              addr,
			Handler:           httpapi.NewServer(svc, opts...).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logging.Warn(ctx, "http server shutdown failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		logging.Info(ctx, "http server listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.Wrap(err, "listen and serve")
		}
		logging.Info(ctx, "http server stopped")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to http.addr from config)")
}
