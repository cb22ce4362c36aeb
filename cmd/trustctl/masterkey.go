package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/infra"
)

// masterKeyCmd はマスター鍵の生成コマンド。
func masterKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "masterkey",
		Short: "Manage the master key",
	}
	cmd.AddCommand(masterKeyGenerateCmd())
	return cmd
}

func masterKeyGenerateCmd() *cobra.Command {
	var wrap bool
	var kmsKeyName string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random 32-byte master key",
		Long: "Generate a random 32-byte master key. With --wrap the key is encrypted by Cloud KMS " +
			"and printed as MASTER_KEY_CIPHERTEXT; the plaintext is never printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, domain.DEKSize)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("generating key: %w", err)
			}
			defer clear(key)

			if !wrap {
				fmt.Fprintf(cmd.OutOrStdout(), "MASTER_ENCRYPTION_KEY=base64:%s\n", base64.StdEncoding.EncodeToString(key))
				return nil
			}

			if kmsKeyName == "" {
				return fmt.Errorf("--kms-key or KMS_KEY_NAME is required with --wrap")
			}
			client, err := infra.NewKMSClient(cmd.Context(), kmsKeyName)
			if err != nil {
				return err
			}
			defer client.Close()

			ciphertext, err := client.Encrypt(cmd.Context(), key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "MASTER_KEY_CIPHERTEXT=%s\n", base64.StdEncoding.EncodeToString(ciphertext))
			fmt.Fprintf(out, "KMS_KEY_NAME=%s\n", kmsKeyName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wrap, "wrap", false, "Wrap the key with Cloud KMS")
	cmd.Flags().StringVar(&kmsKeyName, "kms-key", "", "Cloud KMS key resource name (or set KMS_KEY_NAME)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if kmsKeyName == "" {
			kmsKeyName = os.Getenv("KMS_KEY_NAME")
		}
	}
	return cmd
}
