package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"salesops-backend/internal/changes"
)

var diffCmd = &cobra.Command{
	Use:   "diff <current.json> [previous.json]",
	Short: "Compare two analysis results",
	Long: `Compare two analysis result payloads and print the change detection result.

Without a previous file the result is reported as an initial analysis.

Examples:
  salesopsctl diff v3.json v2.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	current, err := readPayload(args[0])
	if err != nil {
		return err
	}
	var previous map[string]any
	if len(args) == 2 {
		if previous, err = readPayload(args[1]); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(changes.Detect(current, previous))
}

func readPayload(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}
