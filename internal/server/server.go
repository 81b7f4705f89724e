// Package server exposes the webhook endpoint and the JSON admin API.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zulandar/gitdeploy/internal/backup"
	"github.com/zulandar/gitdeploy/internal/deploy"
	"github.com/zulandar/gitdeploy/internal/tracked"
	"github.com/zulandar/gitdeploy/internal/updater"
	"github.com/zulandar/gitdeploy/internal/webhook"
)

// Deployer is the orchestrator surface the API drives.
type Deployer interface {
	Deploy(ctx context.Context, req deploy.Request) (*deploy.Outcome, error)
	DeployByID(ctx context.Context, id uint, trigger string) (*deploy.Outcome, error)
	Rollback(ctx context.Context, owner, name, id string) (*backup.Metadata, error)
	Backups(owner, name string) ([]backup.Descriptor, error)
}

// Checker runs an update sweep.
type Checker interface {
	CheckForUpdates(ctx context.Context) (*updater.SweepReport, error)
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Port int
	// AdminToken guards /api; empty disables the check.
	AdminToken string
	Repos      *tracked.Store
	Deployer   Deployer
	Checker    Checker
	Webhook    *webhook.Handler
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Log      logr.Logger
	Out      io.Writer
}

// Trigger is the lock holder name used for API deployments.
const Trigger = "api"

// Start launches the HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "gitdeploy listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	switch {
	case opts.Repos == nil:
		return nil, fmt.Errorf("server: repository store is required")
	case opts.Deployer == nil:
		return nil, fmt.Errorf("server: deployer is required")
	case opts.Webhook == nil:
		return nil, fmt.Errorf("server: webhook handler is required")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Log.WithName("http")))
	registerRoutes(router, opts)
	return router, nil
}

// requestLogger logs each request at V(1).
func requestLogger(log logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.V(1).Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
