package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

type keyMetadata struct {
	TenantID   string `json:"tenant_id"`
	Generation uint   `json:"generation"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// keyCmd はテナント鍵世代の管理コマンド。
func keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage tenant key generations",
	}
	cmd.AddCommand(keyCreateCmd(), keyRotateCmd(), keyListCmd(), keyDisableCmd())
	return cmd
}

func keyCreateCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register the first key generation for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodPost, fmt.Sprintf("/v1/tenants/%s/keys", tenantID), http.StatusCreated)
			if err != nil {
				return err
			}
			return printKeyResult(cmd, body, "Created key for tenant %q (generation: %d)\n")
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func keyRotateCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the key for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodPost, fmt.Sprintf("/v1/tenants/%s/keys/rotate", tenantID), http.StatusCreated)
			if err != nil {
				return err
			}
			return printKeyResult(cmd, body, "Rotated key for tenant %q (new generation: %d)\n")
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func keyListCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List key generations for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodGet, fmt.Sprintf("/v1/tenants/%s/keys", tenantID), http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}

			var result struct {
				Keys []keyMetadata `json:"keys"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s %-10s %s\n", "GENERATION", "STATUS", "CREATED_AT")
			for _, k := range result.Keys {
				fmt.Fprintf(out, "%-12d %-10s %s\n", k.Generation, k.Status, k.CreatedAt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func keyDisableCmd() *cobra.Command {
	var tenantID string
	var generation uint
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable a key generation (data encrypted under it becomes unreadable)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if generation == 0 {
				return fmt.Errorf("--generation is required")
			}
			if _, err := callAPI(http.MethodDelete, fmt.Sprintf("/v1/tenants/%s/keys/%d", tenantID, generation), http.StatusNoContent); err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Disabled key for tenant %q (generation: %d)\n", tenantID, generation)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().UintVar(&generation, "generation", 0, "Key generation (required)")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("generation")
	return cmd
}

func printKeyResult(cmd *cobra.Command, body []byte, format string) error {
	if output == "json" {
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}
	var result keyMetadata
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), format, result.TenantID, result.Generation)
	return nil
}
