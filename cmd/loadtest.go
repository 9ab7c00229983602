package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/okian/trophy/internal/auth"
	"github.com/okian/trophy/internal/roster"
	"github.com/spf13/cobra"
)

// Default load run settings.
const (
	defaultStudents = 1000
	defaultTopN     = 50
	defaultTimeout  = 30 * time.Second
	defaultSettle   = 30 * time.Second
	defaultRunLimit = 10 * time.Minute
)

func newLoadtestCmd() *cobra.Command {
	cfg := roster.Config{}
	var secret string
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Submit a generated roster to a running server and verify the ranking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Token == "" && secret != "" {
				tok, err := auth.NewVerifier(secret, time.Hour).Issue("loadtest", auth.RoleOperator)
				if err != nil {
					return err
				}
				cfg.Token = tok
			}
			ctx, cancel := contextWithTimeout(cmd, defaultRunLimit)
			defer cancel()

			rep, err := roster.RunLoad(ctx, cfg)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			_ = enc.Encode(rep)
			if errors.Is(err, roster.ErrVerification) {
				return exitError(4, "%v", err)
			}
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "Base URL of the service")
	flags.IntVar(&cfg.Students, "students", defaultStudents, "Number of students to generate and submit")
	flags.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*2, "Number of concurrent requests")
	flags.IntVar(&cfg.TopN, "top", defaultTopN, "Leaderboard entries to fetch and check")
	flags.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	flags.DurationVar(&cfg.Settle, "settle", defaultSettle, "How long to wait for scores to match")
	flags.Int64Var(&cfg.Seed, "seed", 1, "Roster generator seed")
	flags.StringVar(&cfg.Token, "token", "", "Bearer token for write routes")
	flags.StringVar(&secret, "secret", "", "Issue an operator token with this auth secret")
	flags.StringVar(&cfg.Output, "output", "", "Save the generated roster to this file")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		role    string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with TROPHY_AUTH_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.AuthSecret == "" {
				return exitError(2, "auth_secret is not configured")
			}
			switch role {
			case auth.RoleAdmin, auth.RoleOperator, auth.RoleViewer:
			default:
				return exitError(2, "unknown role %q", role)
			}
			tok, err := auth.NewVerifier(cfg.AuthSecret, ttl).Issue(subject, role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&role, "role", auth.RoleOperator, "Token role: admin, operator or viewer")
	flags.StringVar(&subject, "subject", "sports-office", "Token subject")
	flags.DurationVar(&ttl, "ttl", tokenTTL, "Token lifetime")
	return cmd
}
