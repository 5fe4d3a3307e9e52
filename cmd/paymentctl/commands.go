package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/partsmarket/golang_services/internal/payment_service/app"
	"github.com/partsmarket/golang_services/internal/payment_service/bootstrap"
	"github.com/partsmarket/golang_services/internal/payment_service/catalog"
	"github.com/partsmarket/golang_services/internal/payment_service/repository/postgres"
	"github.com/partsmarket/golang_services/internal/platform/config"
	"github.com/partsmarket/golang_services/internal/platform/logger"
)

const serviceName = "paymentctl"

var errNeedsPostgres = errors.New("this command requires STORE_DRIVER=postgres")

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, logger.New(cfg.LogLevel).With("service", serviceName), nil
}

// run loads configuration, lets adjust tweak it, builds the components and calls fn.
func run(cmd *cobra.Command, adjust func(*config.Config), fn func(*bootstrap.Components) error) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if adjust != nil {
		adjust(cfg)
	}
	c, err := bootstrap.Build(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the payment schema (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, nil, func(c *bootstrap.Components) error {
				if c.DB == nil {
					return errNeedsPostgres
				}
				if err := postgres.Migrate(cmd.Context(), c.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func seedPackagesCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-packages",
		Short: "Insert or update credit packages from a YAML file",
		Example: `  paymentctl seed-packages --file configs/packages.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := catalog.LoadFile(file)
			if err != nil {
				return err
			}
			// The catalog must come from the database here, not from CATALOG_FILE.
			clearFile := func(cfg *config.Config) { cfg.CatalogFile = "" }
			return run(cmd, clearFile, func(c *bootstrap.Components) error {
				if c.Packages == nil {
					return errNeedsPostgres
				}
				if err := c.Packages.Upsert(cmd.Context(), pkgs); err != nil {
					return err
				}
				if c.Cache != nil {
					if err := c.Cache.Invalidate(cmd.Context()); err != nil {
						return fmt.Errorf("packages saved but cache invalidation failed: %w", err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d packages\n", len(pkgs))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "configs/packages.yaml", "package definitions (YAML)")
	return cmd
}

func sweepExpiredCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "sweep-expired",
		Short: "Resolve or expire sessions pending longer than the TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			adjust := func(cfg *config.Config) {
				if ttl > 0 {
					cfg.SessionPendingTTL = ttl
				}
			}
			return run(cmd, adjust, func(c *bootstrap.Components) error {
				rep, err := c.Housekeeper.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "examined=%d expired=%d resolved=%d skipped=%d\n",
					rep.Examined, rep.Expired, rep.Resolved, rep.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "override SESSION_PENDING_TTL")
	return cmd
}

func repairCreditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair-credits",
		Short: "Grant credits for succeeded sessions that have no ledger entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, nil, func(c *bootstrap.Components) error {
				n, err := c.Housekeeper.RepairUncredited(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "repaired %d sessions\n", n)
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <sessionID>",
		Short: "Ask the gateway for a session's outcome and apply it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			return run(cmd, nil, func(c *bootstrap.Components) error {
				res, err := c.Reconciler.Reconcile(cmd.Context(), sessionID, "")
				if err != nil {
					res = app.ResultForError(sessionID, err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(res); encErr != nil {
					return encErr
				}
				return err
			})
		},
	}
}

func purgeSessionsCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "purge-sessions",
		Short: "Delete unsuccessful sessions resolved before the retention window",
		Long: `Delete declined, cancelled and expired sessions resolved longer ago than the
retention window. Succeeded sessions are kept because ledger entries reference them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			adjust := func(cfg *config.Config) {
				if retention > 0 {
					cfg.SessionRetention = retention
				}
			}
			return run(cmd, adjust, func(c *bootstrap.Components) error {
				n, err := c.Housekeeper.PurgeResolved(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d sessions\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override SESSION_RETENTION")
	return cmd
}
