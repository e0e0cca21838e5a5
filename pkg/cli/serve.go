package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/secmon-lab/iris/pkg/cli/config"
	httpctrl "github.com/secmon-lab/iris/pkg/controller/http"
	"github.com/secmon-lab/iris/pkg/usecase"
	"github.com/secmon-lab/iris/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var clientState string
	var repoCfg config.Repository
	var authCfg config.Auth
	var graphCfg config.Graph
	var workerCfg config.Worker
	var sentryCfg config.Sentry
	var subsCfg config.Subscriptions

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("IRIS_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "client-state-secret",
			Usage:       "Shared secret expected in webhook clientState fields",
			Sources:     cli.EnvVars("IRIS_CLIENT_STATE_SECRET"),
			Destination: &clientState,
		},
	}

	// Add shared config flags
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, authCfg.Flags()...)
	flags = append(flags, graphCfg.Flags()...)
	flags = append(flags, workerCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)
	flags = append(flags, subsCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server and notification worker",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if clientState == "" {
				return goerr.New("client-state-secret is required")
			}

			// Initialize error reporting first so startup failures are captured
			flushSentry, err := sentryCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to initialize sentry")
			}
			defer flushSentry()

			// Load subscription registry
			registry, err := subsCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load subscription config")
			}
			if len(registry.List()) == 0 {
				logging.Default().Warn("No subscriptions configured, all webhook notifications will be dropped")
			}

			// Initialize repository based on backend type
			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			// Configure delegated OAuth
			authUC, err := authCfg.Configure(repo)
			if err != nil {
				return goerr.Wrap(err, "failed to configure authentication")
			}
			logging.Default().Info("Microsoft authentication enabled", "auth", authCfg)

			// Upstream client reuses the session tokens held by authUC
			graphClient := graphCfg.Configure(authUC)

			// Notification worker drains the queue in the background
			notificationWorker := workerCfg.Configure(repo, graphClient, registry)
			if err := notificationWorker.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start notification worker")
			}

			ingestUC := usecase.NewIngestUseCase(repo, registry, clientState,
				usecase.WithWake(notificationWorker.Wake),
			)

			uc := usecase.New(repo,
				usecase.WithAuth(authUC),
				usecase.WithIngest(ingestUC),
			)

			// Create HTTP server
			handler := httpctrl.New(uc,
				httpctrl.WithSubscriptionRegistry(registry),
			)
			server := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			// Start server in goroutine
			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			// Wait for shutdown signal or server error
			select {
			case err := <-errCh:
				notificationWorker.Stop()
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				// Stop the worker first so in-flight rows settle before
				// the repository closes
				notificationWorker.Stop()

				// Create shutdown context with timeout
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				// Attempt graceful shutdown
				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
