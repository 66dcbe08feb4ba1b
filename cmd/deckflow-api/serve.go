package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/PabloGalante/deckflow-agent/internal/adapters/http"
	"github.com/PabloGalante/deckflow-agent/internal/app/jobs"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

var (
	servePort    string
	drainTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides DECKFLOW_PORT)")
	serveCmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "how long shutdown waits for running jobs")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}
	log := observability.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := newHTTPServer(":"+cfg.Port, httpadapter.NewServer(app.jobs, httpadapter.Options{CORSOrigin: cfg.CORSOrigin}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("deckflow api listening", "addr", srv.Addr, "mode", string(cfg.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return shutdown(srv, app.jobs, 10*time.Second, drainTimeout)
	})

	return g.Wait()
}

// newHTTPServer returns a server whose request contexts are canceled as soon
// as Shutdown starts, so open event streams end instead of holding it open.
func newHTTPServer(addr string, h http.Handler) *http.Server {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

// shutdown stops srv, then waits up to drain for running jobs whether or not
// the server stopped cleanly.
func shutdown(srv *http.Server, svc *jobs.Service, timeout, drain time.Duration) error {
	log := observability.WithFields("addr", srv.Addr)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drain):
		log.Warn("jobs still running at exit", "timeout", drain.String())
	}
	return err
}
