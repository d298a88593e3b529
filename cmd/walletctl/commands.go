package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	adminapp "cookie-wallet/internal/application/admin"
	authapp "cookie-wallet/internal/application/auth"
	"cookie-wallet/internal/bootstrap"
	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// withContainer 設定を読み込んで依存関係を組み立て、fnの後に閉じる
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *bootstrap.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level, _ := cmd.Flags().GetString("log-level")
	logger := otelinfra.NewLoggerWithWriter(otelinfra.Tracer("walletctl"), os.Stderr, level)
	metrics, err := otelinfra.NewMetrics("walletctl")
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	c, err := bootstrap.Build(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(cmd.Context(), c)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a cleanup job once",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reservations",
		Short: "Abandon stale PENDING orders and expire overdue coupons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				res, err := c.ReservationSweeper.RunOnce(ctx)
				if res != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "abandoned=%d coupons_expired=%d\n", res.Abandoned, res.CouponsExpired)
				}
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "idempotency",
		Short: "Delete expired idempotency records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				deleted, err := c.IdempotencySweeper.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted=%d\n", deleted)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "outbox",
		Short: "Publish pending outbox messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				sent, err := c.OutboxSender.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent=%d\n", sent)
				return nil
			})
		},
	})
	return cmd
}

func expireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire wallet resources",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "batches",
		Short: "Forfeit the remainder of expired cookie batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				res, err := c.BatchExpirer.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "batches=%d users=%d forfeited=%d\n", res.Batches, res.Users, res.Forfeited)
				return nil
			})
		},
	})
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [user_id]",
		Short: "Compare balance, ledger sum and batch remainders for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				res, err := c.Admin.Reconcile(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Consistent {
					return fmt.Errorf("wallet of %s is inconsistent", args[0])
				}
				return nil
			})
		},
	}
}

// parseAmount 正の整数のクッキー量
func parseAmount(s string) (int64, error) {
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("amount must be a positive integer: %q", s)
	}
	return amount, nil
}

func grantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant [user_id] [amount]",
		Short: "Grant cookies to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			kind, _ := cmd.Flags().GetString("kind")
			reason, _ := cmd.Flags().GetString("reason")
			operator, _ := cmd.Flags().GetString("operator")
			expiresIn, _ := cmd.Flags().GetDuration("expires-in")

			req := &adminapp.GrantRequest{
				UserID:   args[0],
				Amount:   amount,
				Kind:     kind,
				Reason:   reason,
				Operator: operator,
			}
			if expiresIn > 0 {
				at := time.Now().UTC().Add(expiresIn)
				req.ExpiresAt = &at
			}

			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				res, err := c.Admin.Grant(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().StringP("kind", "k", adminapp.GrantKindBonus, "Grant kind (BONUS, ADMIN)")
	cmd.Flags().StringP("reason", "r", "", "Reason recorded in the audit log")
	cmd.Flags().String("operator", "walletctl", "Operator recorded in the audit log")
	cmd.Flags().Duration("expires-in", 0, "Batch lifetime; 0 uses the default for the kind")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token [user_id]",
		Short: "Issue a bearer token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				res, err := c.Tokens.IssueToken(ctx, &authapp.IssueTokenRequest{UserID: args[0]})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}
