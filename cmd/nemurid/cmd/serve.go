package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apphttp "github.com/amakane-hakari/nemuri/internal/api/http"
	ilog "github.com/amakane-hakari/nemuri/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session cache daemon",
	Long:  "Serve the session API, passivating idle sessions in the background.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-addr", "", "listen address (default :8080)")
	serveCmd.Flags().Duration("session-timeout", 0, "idle time before a released session is passivated (default 5m)")
	serveCmd.Flags().Duration("sweep-interval", 0, "how often idle sessions are swept (default 1s)")
	serveCmd.Flags().Duration("longevity-timeout", 0, "extra delay after a session is finished before it may be passivated")

	_ = viper.BindPFlag("http_addr", serveCmd.Flags().Lookup("http-addr"))
	_ = viper.BindPFlag("session_timeout", serveCmd.Flags().Lookup("session-timeout"))
	_ = viper.BindPFlag("sweep_interval", serveCmd.Flags().Lookup("sweep-interval"))
	_ = viper.BindPFlag("longevity_timeout", serveCmd.Flags().Lookup("longevity-timeout"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	logger := ilog.New()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	a.svc.Start()

	health := &apphttp.Health{}
	router := apphttp.NewRouter(apphttp.RouterConfig{
		Sessions: a.svc,
		Caches:   a.svc.Caches(),
		Health:   health,
		Metrics:  promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              viper.GetString("http_addr"),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("server.start",
		"addr", srv.Addr,
		"storage_dir", viper.GetString("storage_dir"),
		"session_timeout", viper.GetDuration("session_timeout").String(),
		"longevity_timeout", viper.GetDuration("longevity_timeout").String(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("server.shutdown_signal")
	case err = <-errCh:
		logger.Error("server.error", "err", err)
	}

	health.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server.shutdown_failed", "err", serr)
	}
	if cerr := a.close(shutdownCtx); cerr != nil {
		logger.Error("server.close_failed", "err", cerr)
		if err == nil {
			err = cerr
		}
	}
	logger.Info("server.stopped")
	return err
}
