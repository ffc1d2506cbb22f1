package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/imgedit/internal/manifest"
)

var validateCmd = &cobra.Command{
	Use:   "validate <manifest_path>",
	Short: "Validate an imgedit manifest and check referenced files exist",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	manifestPath := args[0]
	out := cmd.OutOrStdout()

	m, err := manifest.ReadJSON(manifestPath)
	if err != nil {
		return err
	}

	baseDir := filepath.Dir(manifestPath)
	if info, err := os.Stat(manifestPath); err == nil && info.IsDir() {
		baseDir = manifestPath
	}
	errors := manifest.Validate(m, baseDir)

	if len(errors) == 0 {
		fmt.Fprintln(out, "  ✓ Manifest is valid")
		fmt.Fprintf(out, "  ✓ %d edits — all files present\n", m.Stats.TotalEdits)
		return nil
	}

	fmt.Fprintf(out, "  ✗ Manifest has %d error(s):\n", len(errors))
	for _, e := range errors {
		fmt.Fprintf(out, "    • %s\n", e)
	}
	return fmt.Errorf("validation failed with %d errors", len(errors))
}
