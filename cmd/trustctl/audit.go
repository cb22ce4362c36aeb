package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var errChainBroken = errors.New("audit chain verification failed")

// auditCmd は監査チェーンの操作コマンド。
func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect tenant audit chains",
	}
	cmd.AddCommand(auditVerifyCmd())
	return cmd
}

func auditVerifyCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute and verify a tenant's audit hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodGet, fmt.Sprintf("/v1/tenants/%s/audit/verify", tenantID), http.StatusOK)
			if err != nil {
				return err
			}

			var result struct {
				TenantID        string `json:"tenant_id"`
				Valid           bool   `json:"valid"`
				EntriesVerified int    `json:"entries_verified"`
				Errors          []struct {
					Seq     int64  `json:"seq"`
					EntryID string `json:"entry_id"`
					Reason  string `json:"reason"`
				} `json:"errors"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				fmt.Fprintln(out, string(body))
			} else if result.Valid {
				fmt.Fprintf(out, "Chain for tenant %q is intact (%d entries verified)\n", result.TenantID, result.EntriesVerified)
			} else {
				fmt.Fprintf(out, "Chain for tenant %q is BROKEN after %d verified entries\n", result.TenantID, result.EntriesVerified)
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  seq=%d entry=%s reason=%s\n", e.Seq, e.EntryID, e.Reason)
				}
			}
			if !result.Valid {
				return errChainBroken
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.MarkFlagRequired("tenant")
	return cmd
}
