package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/imgedit/internal/encoder"
	"github.com/AnyUserName/imgedit/internal/geometry"
	"github.com/AnyUserName/imgedit/internal/logging"
	"github.com/AnyUserName/imgedit/internal/profile"
)

var (
	version     = "0.1.0"
	verbose     bool
	profileName string
	aspectFlag  string
	formatFlag  string
	origin      string
	trusted     []string

	logger = logging.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "imgedit",
	Short: "Crop, zoom and rotate images for upload",
	Long: `imgedit: the crop/zoom/rotate editor behind cover, avatar and banner uploads.

Opens an image from a file, URL or data: URL, applies a fixed-aspect centred
crop (or one you supply), zoom and rotation, renders a 2x preview, and
exports a JPEG at the crop's natural resolution ready for upload.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger = logging.New(cmd.ErrOrStderr(), verbose)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", profile.Default, "editing preset (cover, avatar, banner, free)")
	rootCmd.PersistentFlags().StringVar(&aspectFlag, "aspect", "", "crop aspect ratio, e.g. 3:2 or free (overrides preset)")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "", "output format: jpeg, png or webp (overrides preset)")
	rootCmd.PersistentFlags().StringVar(&origin, "origin", "", "editor origin; remote images from other hosts must allow it to be exported")
	rootCmd.PersistentFlags().StringSliceVar(&trusted, "trust", nil, "extra hosts whose images may be exported")
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"imgedit %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))
}

// resolveProfile returns the selected preset with flag overrides applied.
func resolveProfile() (profile.Profile, error) {
	prof := profile.Get(profileName)
	if _, ok := profile.Lookup(profileName); !ok {
		logVerbose("unknown profile %q, using %s defaults", profileName, profile.Default)
	}
	if aspectFlag != "" {
		a, err := geometry.ParseAspect(aspectFlag)
		if err != nil {
			return prof, err
		}
		prof.Aspect = a
	}
	if formatFlag != "" {
		enc, err := encoder.NewRegistry().Lookup(formatFlag)
		if err != nil {
			return prof, err
		}
		prof.Format = enc.Format()
	}
	return prof, nil
}

// logVerbose prints a message only when --verbose is set.
func logVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[imgedit] "+format+"\n", args...)
	}
}

// logError logs err with its kind at error level.
func logError(msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
}
