package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/repository"
	"esign-trust-service/internal/usecase"
	"esign-trust-service/migrations"
)

// migrateCmd はデータベースマイグレーションの管理コマンド。
// SQLはバイナリに埋め込まれており、DB_DRIVER の方言のものを使う。
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  "Manage database migrations for the trust service (DB_DRIVER selects the dialect)",
	}
	cmd.AddCommand(migrateUpCmd(), migrateStatusCmd())
	return cmd
}

func newMigrationService() (*usecase.MigrationService, error) {
	db, cfg, err := openDB()
	if err != nil {
		return nil, err
	}
	return usecase.NewMigrationService(repository.NewMigrationRepository(db), db, migrations.FS, cfg.DBDriver)
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newMigrationService()
			if err != nil {
				return err
			}
			appliedCount, err := svc.ApplyMigrations(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			if appliedCount == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", appliedCount)
			}
			return nil
		},
	}
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newMigrationService()
			if err != nil {
				return err
			}
			list, err := svc.GetMigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			fmt.Fprintln(w, "-------\t----\t------\t----------")
			for _, m := range list {
				appliedAt := "-"
				if m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
				status := "pending"
				if m.Status == domain.MigrationStatusApplied {
					status = "applied"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, status, appliedAt)
			}
			return w.Flush()
		},
	}
}
