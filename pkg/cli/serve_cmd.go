package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"pganon/internal/api"
	"pganon/internal/db"
	"pganon/internal/metrics"
	"pganon/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		listenAddr string
		migrate    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.config()
			if err != nil {
				return err
			}
			for _, w := range cfg.Warnings {
				a.logger.Warn(w)
			}
			if listenAddr == "" {
				listenAddr = cfg.ListenAddr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			a.metrics = metrics.New(reg)

			if migrate && a.flags.fixture == "" {
				pool, err := a.connect(ctx)
				if err != nil {
					return err
				}
				if err := db.RunMigrations(pool); err != nil {
					return err
				}
			}
			eng, err := a.engine(ctx)
			if err != nil {
				return err
			}

			limiter := middleware.NewRateLimiter(ctx, middleware.RateLimitConfig{
				RequestsPerSecond: cfg.RateLimitRPS,
				Burst:             cfg.RateLimitBurst,
			}, a.logger)
			router := api.NewRouter(api.NewHandler(eng, a.logger), api.RouterOptions{
				JWTSecret:   []byte(cfg.JWTSecret),
				RateLimiter: limiter,
				Gatherer:    reg,
			})

			srv := &http.Server{
				Addr:              listenAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      5 * time.Minute,
				IdleTimeout:       120 * time.Second,
			}

			// SIGHUP reloads the masking policy list.
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						raw, err := a.policySetting(dotEnvFile)
						if err != nil {
							a.logger.Warn("reload masking policies", "error", err)
							continue
						}
						eng.ReloadPolicies(raw)
					}
				}
			}()

			// Graceful shutdown
			go func() {
				<-ctx.Done()
				a.logger.Info("shutting down admin API")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("admin API listening", "addr", listenAddr, "policies", eng.Policies())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides LISTEN_ADDR)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply database migrations before serving")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the label table and the engine schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := db.RunMigrations(pool); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
