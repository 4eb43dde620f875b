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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tutorflow/app"
	"tutorflow/auth"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tutorflow",
		Short:         "Lesson dispute service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSweepCommand())
	cmd.AddCommand(newRelayCommand())
	cmd.AddCommand(newTokenCommand())

	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the expiry sweeper and outbox relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := rt.cfg.RequireAuth(); err != nil {
				return err
			}

			server := NewServer(rt.disputes, rt.slots, rt.auth, rt.catalog, rt.logger)
			httpServer := &http.Server{
				Addr:              rt.cfg.HTTPAddr,
				Handler:           server.routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				rt.logger.Info("HTTP server listening", zap.String("addr", rt.cfg.HTTPAddr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			if !noWorkers {
				relay, closeSinks := rt.relay(gctx)
				defer closeSinks()
				g.Go(func() error { return rt.sweeper().Run(gctx) })
				g.Go(func() error { return relay.Run(gctx) })
			}

			err = g.Wait()
			rt.logger.Info("Shutdown complete")
			return err
		},
	}

	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve HTTP only, without the sweeper and relay")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	var down, force bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			migrator := app.NewMigrator(rt.pool, rt.logger)
			defer migrator.Close()

			if down {
				if rt.cfg.IsProduction() && !force {
					return errors.New("refusing to roll back a production database without --force")
				}
				return migrator.Down(ctx)
			}
			return migrator.Up(ctx)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	cmd.Flags().BoolVar(&force, "force", false, "allow --down when ENV=production")
	return cmd
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Escalate expired reconciliation windows once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			n := rt.sweeper().SweepOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "escalated %d dispute(s)\n", n)
			return nil
		},
	}
}

func newRelayCommand() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the outbox relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			relay, closeSinks := rt.relay(ctx)
			defer closeSinks()

			if once {
				result, err := relay.DrainOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delivered=%d failed=%d dead=%d\n", result.Delivered, result.Failed, result.Dead)
				return nil
			}
			return relay.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "drain a single batch and exit")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Long: `Mint a bearer token for local testing.

Without --role the role is read from the users table, which needs DATABASE_URL.

Example:
  tutorflow token --user 5f0c... --role staff --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				token string
				err   error
			)
			if role != "" {
				cfg, _, lerr := loadConfig()
				if lerr != nil {
					return lerr
				}
				if err := cfg.RequireAuth(); err != nil {
					return err
				}
				token, err = auth.NewService(nil, cfg.JWTSecret).SignToken(userID, auth.Role(role), ttl)
			} else {
				rt, cleanup, berr := bootstrap(cmd.Context())
				if berr != nil {
					return berr
				}
				defer cleanup()
				if err := rt.cfg.RequireAuth(); err != nil {
					return err
				}
				token, err = rt.auth.IssueToken(cmd.Context(), userID, ttl)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&role, "role", "", "role to embed (learner|tutor|staff|admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
