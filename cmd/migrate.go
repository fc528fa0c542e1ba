package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	bookingRepo "tablebook/database/repository/booking"
	tenantRepo "tablebook/database/repository/tenant"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	var seed string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create indexes and tables, optionally seeding tenants into MongoDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if seed != "" {
				// Seeding targets the MongoDB tenant collection.
				cfg.TenantsFile = ""
			}
			a, err := newStorage(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			switch repo := a.bookings.(type) {
			case *bookingRepo.MongoBookingRepo:
				if err := repo.EnsureIndexes(ctx); err != nil {
					return err
				}
			case *bookingRepo.PostgresBookingRepo:
				if err := repo.EnsureSchema(ctx); err != nil {
					return err
				}
			}
			logger.Info("booking store ready", zap.String("store", cfg.BookingStore))

			mongoTenants, ok := a.tenants.(*tenantRepo.MongoTenantRepo)
			if !ok {
				return nil
			}
			if err := mongoTenants.EnsureIndexes(ctx); err != nil {
				return err
			}
			if seed == "" {
				return nil
			}
			tenants, err := tenantRepo.LoadTenantsFile(seed, cfg.DefaultTimezone)
			if err != nil {
				return err
			}
			for i := range tenants {
				if err := mongoTenants.Upsert(ctx, &tenants[i]); err != nil {
					return fmt.Errorf("seed tenant %s: %w", tenants[i].ID, err)
				}
			}
			logger.Info("tenants seeded", zap.Int("count", len(tenants)))
			return nil
		},
	}

	cmd.Flags().StringVar(&seed, "seed", "", "JSON file of tenants to upsert into MongoDB")
	return cmd
}
