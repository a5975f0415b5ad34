package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"decant_shop/internal/app"
	"decant_shop/internal/config"
	"decant_shop/internal/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "shopctl",
		Short:        "Administración de la tienda de decants",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(expireCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load products and admin users from a YAML file",
		Example: `  shopctl seed --file seed.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSeed(file)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			res, err := applySeed(cmd.Context(), db, s)
			if err != nil {
				return err
			}
			fmt.Printf("products created: %d, skipped: %d; admins created: %d\n",
				res.Products, res.SkippedProducts, res.Admins)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	return cmd
}

// withApp 为需要 Redis/outbox 的命令构造完整依赖。
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Resume post-payment steps for paid orders left unfinished",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Pipeline.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("reconciled %d orders\n", n)
				return nil
			})
		},
	}
}

func expireCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Cancel stale pending orders and release their reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				ttl := olderThan
				if ttl <= 0 {
					ttl = a.Config.ReservationTTL
				}
				n, err := a.Orders.ExpireStale(cmd.Context(), ttl)
				if err != nil {
					return err
				}
				fmt.Printf("expired %d orders\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override RESERVATION_TTL_MIN")
	return cmd
}
