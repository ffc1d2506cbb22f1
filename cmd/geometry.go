package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/imgedit/internal/geometry"
)

var geometryCoverage float64

var geometryCmd = &cobra.Command{
	Use:   "geometry <width> <height>",
	Short: "Print the initial centred crop for an image size",
	Args:  cobra.ExactArgs(2),
	RunE:  runGeometry,
}

func init() {
	geometryCmd.Flags().Float64Var(&geometryCoverage, "coverage", 0, "crop width in percent of the image (0 = preset default)")
	rootCmd.AddCommand(geometryCmd)
}

func runGeometry(cmd *cobra.Command, args []string) error {
	w, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("width: %w", err)
	}
	h, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("height: %w", err)
	}

	prof, err := resolveProfile()
	if err != nil {
		return err
	}
	coverage := prof.Coverage
	if geometryCoverage > 0 {
		coverage = geometryCoverage
	}

	pct, err := geometry.CenteredCrop(w, h, prof.Aspect, coverage)
	if err != nil {
		return err
	}
	px, err := geometry.InitialCrop(w, h, prof.Aspect, coverage)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  Image:    %dx%d\n", w, h)
	fmt.Fprintf(out, "  Aspect:   %s\n", prof.AspectLabel())
	fmt.Fprintf(out, "  Percent:  x=%.4g%% y=%.4g%% w=%.4g%% h=%.4g%%\n", pct.X, pct.Y, pct.Width, pct.Height)
	fmt.Fprintf(out, "  Pixels:   x=%d y=%d w=%d h=%d\n", px.X, px.Y, px.Width, px.Height)
	fmt.Fprintf(out, "  Preview:  %dx%d\n", int(float64(px.Width)*prof.PreviewScale), int(float64(px.Height)*prof.PreviewScale))
	if adv := prof.Advisory(px.Width, px.Height); adv != "" {
		fmt.Fprintf(out, "  ⚠ %s\n", adv)
	}
	return nil
}
