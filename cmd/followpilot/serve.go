package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"followpilot/internal/api"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the task runner",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	repaired, err := a.manager.Recover(context.Background())
	if err != nil {
		return err
	}
	if repaired > 0 {
		log.Warn().Int("paused", repaired).Msg("repaired running tasks")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(ctx)

	apiHandler := api.NewAPI(api.Deps{
		Manager:  a.manager,
		Settings: a.settings,
		Stats:    a.stats,
		Cleanup:  a.newCleanup(),
		BaseCtx:  groupCtx,
	})
	router := setupRouter()
	apiHandler.RegisterRoutes(router)
	api.RegisterMetrics(router, a.registry)
	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	group.Go(func() error {
		return a.newRunner().Run(groupCtx)
	})
	group.Go(func() error {
		log.Info().Int("port", cfg.Port).Str("store", cfg.Store).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info().Msg("shutdown signal received")
		gracefulShutdown(srv, apiHandler, shutdownTimeout)
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server exited cleanly")
	return nil
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.RequestID())
	r.Use(api.ZerologLogger())
	return r
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func gracefulShutdown(srv *http.Server, apiHandler *api.API, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}
	if !apiHandler.WaitAll(ctx) {
		log.Warn().Msg("background cleanups did not finish before timeout")
	}
}
