package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sarchlab/sqlprof/config"
	"github.com/sarchlab/sqlprof/webui"
	"github.com/sarchlab/sqlprof/webui/static"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recorded sessions to a browser.",
	Long: "`serve --storage sessions.sqlite3` serves the sessions stored in " +
		"a SQLite file. `--open [id]` also opens the results page of a " +
		"session in the default browser.",
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on")
	serveCmd.Flags().String("open", "",
		"Open the results page of the session with this id")
	serveCmd.Flags().Bool("dev", false,
		"Serve the popup assets from the source tree")
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("addr") {
		settings.ListenAddr, _ = cmd.Flags().GetString("addr")
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(settings, logger, false)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	assets, err := loadAssets(cmd, settings)
	if err != nil {
		return err
	}

	handler := webui.NewHandler(store, settings,
		webui.WithLogger(logger),
		webui.WithGatherer(reg),
		webui.WithAssets(assets))

	listener, err := net.Listen("tcp", settings.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", settings.ListenAddr, err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	base := fmt.Sprintf("http://localhost:%d%s", port, settings.RouteBasePath)

	fmt.Fprintf(cmd.ErrOrStderr(), "Serving sessions on %s\n", base)

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	if open, _ := cmd.Flags().GetString("open"); open != "" {
		openResults(logger, base, open)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

func loadAssets(cmd *cobra.Command, settings config.Settings) (http.FileSystem, error) {
	var opts []static.Option

	if settings.AssetsDir != "" {
		opts = append(opts, static.WithDir(settings.AssetsDir))
	}

	if dev, _ := cmd.Flags().GetBool("dev"); dev {
		opts = append(opts, static.WithSourceDir())
	}

	return static.Assets(opts...)
}

func openResults(logger *zap.Logger, base, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		logger.Warn("not opening results", zap.String("id", rawID), zap.Error(err))
		return
	}

	url := base + "results?id=" + id.String()
	if err := browser.OpenURL(url); err != nil {
		logger.Warn("opening browser", zap.String("url", url), zap.Error(err))
	}
}
