// Package main は運用CLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL   string
	apiToken string
	output   string
	timeout  time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "trustctl",
		Short:         "E-signature trust service CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			if apiURL == "" {
				apiURL = os.Getenv("TRUSTCTL_API_URL")
			}
			if apiToken == "" {
				apiToken = os.Getenv("TRUSTCTL_TOKEN")
			}
			apiURL = strings.TrimRight(apiURL, "/")
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set TRUSTCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Bearer token for tenant routes (or set TRUSTCTL_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(otpCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(masterKeyCmd())
	rootCmd.AddCommand(envelopeCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trustctl version %s\n", version)
		},
	}
}

// callAPI はAPIを呼び出し、want 以外のステータスはエラーに変換する。
func callAPI(method, path string, want int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set TRUSTCTL_API_URL)")
	}
	req, err := http.NewRequest(method, apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != want {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("%s (%s)", errResp.Message, errResp.Code)
	}
	return fmt.Errorf("server returned status %d", statusCode)
}
