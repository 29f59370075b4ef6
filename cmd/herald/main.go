// Command herald runs the waitlist, token and email delivery service, and
// carries the operator commands that share its configuration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"herald/cmd/internal/app"
	authapi "herald/cmd/internal/auth/api"
	"herald/cmd/internal/dbschema"
	"herald/cmd/internal/invite"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "herald",
		Short:         "Waitlist, signed tokens and email delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.AddCommand(serveCmd(), migrateCmd(), replayCmd(), tokenCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}

func migrateCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if printOnly {
				ddl, err := dbschema.SQL(cfg.DBSchema)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), ddl)
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("HERALD_DATABASE_URL is required")
			}

			ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), time.Minute)
			defer cancel()
			pool, err := app.NewDBPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := dbschema.Apply(ctx, pool, cfg.DBSchema); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			app.NewLogger(cfg.LogLevel, cfg.LogFormat).Info("db.migrate.ok", "schema", cfg.DBSchema)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")
	return cmd
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Run one dead-letter replay pass and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer deps.Close(context.Background())
			if deps.Replayer == nil {
				return app.ErrEmailDisabled
			}

			res, err := deps.Replayer.Replay(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint signed tokens without going through the admin API",
	}
	cmd.AddCommand(
		mintCmd("invite", "Mint an invitation token", func(c authapi.Config) int { return c.InviteTTLHours },
			func(s *invite.Service, in invite.IssueInput) (invite.Issued, error) {
				return s.CreateInviteToken(in)
			}),
		mintCmd("reset", "Mint a password-reset token", func(c authapi.Config) int { return c.ResetTTLHours },
			func(s *invite.Service, in invite.IssueInput) (invite.Issued, error) {
				return s.CreatePasswordResetToken(in)
			}),
	)
	return cmd
}

type mintFunc func(*invite.Service, invite.IssueInput) (invite.Issued, error)

func mintCmd(use, short string, defaultTTL func(authapi.Config) int, mint mintFunc) *cobra.Command {
	var in invite.IssueInput
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			apiCfg, err := authapi.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			if in.TTLHours == 0 {
				in.TTLHours = defaultTTL(apiCfg)
			}
			if in.TTLHours < 0 || in.TTLHours > apiCfg.MaxTTLHours {
				return fmt.Errorf("ttl must be between 1 and %d hours", apiCfg.MaxTTLHours)
			}
			svc, err := invite.NewService(cfg.TokenSecret, invite.WithBaseURL(cfg.BaseURL))
			if err != nil {
				return err
			}
			in.Now = time.Now().UTC()
			issued, err := mint(svc, in)
			if err != nil {
				return err
			}
			return printJSON(cmd, issued)
		},
	}
	cmd.Flags().StringVar(&in.SubjectID, "subject", "", "subject id carried in the token")
	cmd.Flags().StringVar(&in.Email, "email", "", "recipient address carried in the token")
	cmd.Flags().IntVar(&in.TTLHours, "ttl", 0, "lifetime in hours (0 uses the default)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
