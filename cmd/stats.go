package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/imgedit/internal/manifest"
)

var statsCmd = &cobra.Command{
	Use:   "stats <out_dir_or_manifest>",
	Short: "Display statistics for an output directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	m, err := manifest.ReadJSON(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Manifest version: %d\n", m.Version)
	fmt.Fprintf(out, "  Generated:        %s\n", m.GeneratedAt)
	fmt.Fprintf(out, "  Profile:          %s\n", m.Profile)
	if m.Settings != nil {
		fmt.Fprintf(out, "  Aspect:           %s\n", m.Settings.Aspect)
		fmt.Fprintf(out, "  Format:           %s q%d\n", m.Settings.Format, m.Settings.Quality)
	}
	fmt.Fprintln(out)

	s := m.Stats
	fmt.Fprintf(out, "  Total edits:      %d\n", s.TotalEdits)
	fmt.Fprintf(out, "  Input size:       %s\n", formatBytes(s.TotalInputBytes))
	fmt.Fprintf(out, "  Output size:      %s\n", formatBytes(s.TotalOutputBytes))
	fmt.Fprintf(out, "  Uploaded:         %d\n", s.Uploaded)
	fmt.Fprintln(out)

	// Rotation and zoom breakdown.
	rotations := map[int]int{}
	zoomed := 0
	for _, e := range m.Edits {
		rotations[e.Params.Rotation]++
		if e.Params.Scale != 1 {
			zoomed++
		}
	}
	var degs []int
	for d := range rotations {
		degs = append(degs, d)
	}
	sort.Ints(degs)
	fmt.Fprintln(out, "  Rotation breakdown:")
	for _, d := range degs {
		fmt.Fprintf(out, "    %3d°  %4d edits\n", d, rotations[d])
	}
	fmt.Fprintf(out, "  Zoomed: %d / %d edits\n", zoomed, len(m.Edits))

	// Warnings.
	var warnings []string
	for key, e := range m.Edits {
		if e.Advisory != "" {
			warnings = append(warnings, fmt.Sprintf("%s: %s", key, e.Advisory))
		}
		if e.UploadError != "" {
			warnings = append(warnings, fmt.Sprintf("%s: upload failed: %s", key, e.UploadError))
		}
	}
	sort.Strings(warnings)
	if len(warnings) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Warnings (%d):\n", len(warnings))
		for _, w := range warnings {
			fmt.Fprintf(out, "    ⚠ %s\n", w)
		}
	}
	fmt.Fprintln(out)
	return nil
}
