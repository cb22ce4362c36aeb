package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"esign-trust-service/internal/infra"
	"esign-trust-service/internal/repository"
	"esign-trust-service/internal/usecase"
)

// otpCmd はOTPコードの保守コマンド。
func otpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Maintain one-time passcode records",
	}
	cmd.AddCommand(otpPurgeCmd())
	return cmd
}

func otpPurgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete codes that expired before the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			// レート制限の窓より短いと発行数の計数が狂う
			if olderThan < time.Hour {
				return fmt.Errorf("--older-than must be at least 1h")
			}
			db, cfg, err := openDB()
			if err != nil {
				return err
			}
			// 削除のみ行うため通知と監査は渡さない
			svc := usecase.NewOtpService(
				repository.NewOtpRepository(db, infra.NewID),
				usecase.NewSecretCodeGenerator(0),
				nil,
				nil,
				infra.NewMemoryLocker(),
				usecase.OtpPolicy{
					CodeLength:       cfg.OtpCodeLength,
					Expiry:           cfg.OtpExpiry,
					MaxAttempts:      cfg.OtpMaxAttempts,
					RateLimitPerHour: cfg.OtpRateLimitPerHour,
				},
			)
			n, err := svc.PurgeExpired(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"deleted\":%d}\n", n)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired code(s).\n", n)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Retention horizon for expired codes")
	return cmd
}
