package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"esign-trust-service/internal/usecase"
)

// envelopeCmd は暗号化ペイロードの検査コマンド。
func envelopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envelope",
		Short: "Inspect encrypted payloads",
	}
	cmd.AddCommand(envelopeInspectCmd())
	return cmd
}

// envelopeInspectCmd はファイル（"-" で標準入力）の構造情報を表示する。
// 鍵を使わないため、改ざんの有無は判定できない。
func envelopeInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file|->",
		Short: "Show the framing of an encrypted payload without decrypting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !usecase.IsEncrypted(data) {
				fmt.Fprintf(out, "Not an encrypted payload (%d bytes)\n", len(data))
				return nil
			}
			meta, err := usecase.EnvelopeMetadataOf(data)
			if err != nil {
				return err
			}

			if output == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(meta)
			}
			fmt.Fprintf(out, "Algorithm:   %s\n", meta.Algorithm)
			fmt.Fprintf(out, "Nonce:       %d bytes\n", meta.NonceSize)
			fmt.Fprintf(out, "Ciphertext:  %d bytes\n", meta.CiphertextSize)
			fmt.Fprintf(out, "Tag:         %d bytes\n", meta.TagSize)
			fmt.Fprintf(out, "Total:       %d bytes\n", meta.PayloadSize)
			return nil
		},
	}
}

func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
