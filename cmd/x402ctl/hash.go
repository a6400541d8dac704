package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/verification"
)

func newHashCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "hash <ttm-file|->",
		Short: "Compute the ttmHash of a transaction terms manifest",
		Long: `Compute the canonical SHA-256 digest of a transaction terms manifest read
from a JSON or YAML file, or from stdin with "-". Amounts must be strings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			if format == "" {
				format = formatFromPath(args[0])
			}
			ttm, err := decodeTTM(data, format)
			if err != nil {
				return err
			}

			hash, err := verification.ComputeTTMHash(*ttm)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "input format (json, yaml); detected from the file extension by default")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	// #nosec G304 - path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// decodeTTM reads a manifest. YAML is converted to JSON first so the
// manifest's json tags apply to both formats.
func decodeTTM(data []byte, format string) (*x402.TransactionTermsManifest, error) {
	switch format {
	case "json":
	case "yaml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML: %w", err)
		}
		data = converted
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	var ttm x402.TransactionTermsManifest
	if err := json.Unmarshal(data, &ttm); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &ttm, nil
}
