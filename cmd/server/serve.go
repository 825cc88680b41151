package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdg-garage/confreg/internal/auth"
	"github.com/gdg-garage/confreg/internal/gateway"
	"github.com/gdg-garage/confreg/internal/handlers"
	"github.com/gdg-garage/confreg/internal/reconcile"
	"github.com/gdg-garage/confreg/internal/registration"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the registration API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, !noSweep)
		},
	}

	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the background timeout sweep")
	return cmd
}

func runServe(ctx context.Context, sweep bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	client := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.GatewayBaseURL,
		AccessToken: cfg.GatewayAccessToken,
		LocationID:  cfg.GatewayLocationID,
		MaxRetries:  cfg.GatewayMaxRetries,
		Timeout:     cfg.GatewayTimeout,
	}, a.logger)
	service := registration.NewService(a.store, a.catalog, client, a.confirmer, a.logger)

	verifier, err := reconcile.NewVerifier(cfg.WebhookSignatureKey, cfg.WebhookNotificationURL)
	if err != nil {
		return err
	}
	events := reconcile.NewEventLog(a.db)
	reconciler := reconcile.New(verifier, a.store, a.confirmer, events, a.logger)

	adminSecret := cfg.AdminJWTSecret
	if adminSecret == "" {
		// No secret configured: admin tokens cannot be minted, so nobody gets in.
		adminSecret = randomSecret()
		a.logger.Warn("ADMIN_JWT_SECRET not set, operator endpoints are disabled")
	}
	authenticator, err := auth.NewAuthenticator(adminSecret)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	handlers.RegisterRoutes(r, authenticator, handlers.Handlers{
		Registration: handlers.NewRegistrationHandler(service, a.logger),
		Webhook:      handlers.NewWebhookHandler(reconciler),
		Admin:        handlers.NewAdminHandler(reconciler, a.sweeper, a.store, events, a.logger),
	}, cfg.EnableCORS)

	if sweep && cfg.SweepInterval > 0 {
		go a.sweeper.Run(ctx, cfg.SweepInterval)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", zap.String("port", cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func randomSecret() string {
	return uuid.NewString() + uuid.NewString()
}
