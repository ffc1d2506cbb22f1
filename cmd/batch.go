package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/imgedit/internal/manifest"
	"github.com/AnyUserName/imgedit/internal/pipeline"
	"github.com/AnyUserName/imgedit/internal/upload"
)

var (
	batchOutDir    string
	batchWorkers   int
	batchQuality   int
	batchUploadURL string
	batchUploadDir string
	batchBucket    string
)

var batchCmd = &cobra.Command{
	Use:   "batch <input_dir>",
	Short: "Export the preset's centred crop of every image in a directory",
	Long: `Scans input directory for images (png, jpg, jpeg, webp, gif, bmp, tiff),
exports each with the preset's centred crop at natural resolution,
optionally uploads the results, and writes a manifest file.

Output filenames are content-addressed: <key>.<w>.<h>.<hash>.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchOutDir, "out", "o", "./imgedit_out", "output directory")
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 0, "parallel workers (0 = NumCPU)")
	batchCmd.Flags().IntVarP(&batchQuality, "quality", "q", 0, "quality 1-100 (0 = preset default)")
	batchCmd.Flags().StringVar(&batchUploadURL, "upload-url", "", "multipart upload endpoint")
	batchCmd.Flags().StringVar(&batchUploadDir, "upload-dir", "", "store uploads in this directory instead")
	batchCmd.Flags().StringVar(&batchBucket, "bucket", "", "target bucket sent with each upload")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	inputDir := args[0]
	start := time.Now()

	// Resolve absolute paths.
	absInput, err := filepath.Abs(inputDir)
	if err != nil {
		return fmt.Errorf("resolve input path: %w", err)
	}
	absOutput, err := filepath.Abs(batchOutDir)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	prof, err := resolveProfile()
	if err != nil {
		return err
	}
	if batchQuality > 0 {
		prof.Quality = batchQuality
	}

	logVerbose("input:   %s", absInput)
	logVerbose("output:  %s", absOutput)
	logVerbose("profile: %s (aspect=%s, quality=%d)", prof.Name, prof.AspectLabel(), prof.Quality)

	if err := os.MkdirAll(absOutput, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var uploader upload.Uploader
	switch {
	case batchUploadURL != "":
		uploader = &upload.HTTPUploader{Endpoint: batchUploadURL, MaxBytes: maxUploadBytes, Logger: logger}
	case batchUploadDir != "":
		uploader = &upload.DirUploader{Dir: batchUploadDir}
	}
	var fields map[string]string
	if batchBucket != "" {
		fields = map[string]string{"targetBucket": batchBucket}
	}

	p, err := pipeline.New(pipeline.Config{
		InputDir:     absInput,
		OutputDir:    absOutput,
		Profile:      prof,
		Workers:      batchWorkers,
		Uploader:     uploader,
		UploadFields: fields,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	m, err := p.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	manifestPath := filepath.Join(absOutput, manifest.FileName)
	if err := manifest.WriteJSON(m, manifestPath); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	printBatchReport(cmd.OutOrStdout(), m, time.Since(start))
	return nil
}

func printBatchReport(out io.Writer, m *manifest.Manifest, elapsed time.Duration) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  imgedit batch complete")
	fmt.Fprintln(out)

	stats := m.Stats
	fmt.Fprintf(out, "  Edits:       %d\n", stats.TotalEdits)
	fmt.Fprintf(out, "  Input size:  %s\n", formatBytes(stats.TotalInputBytes))
	fmt.Fprintf(out, "  Output size: %s\n", formatBytes(stats.TotalOutputBytes))
	if stats.Uploaded > 0 || stats.UploadFailed > 0 {
		fmt.Fprintf(out, "  Uploaded:    %d (%d failed)\n", stats.Uploaded, stats.UploadFailed)
	}
	fmt.Fprintf(out, "  Time:        %s\n", elapsed.Round(time.Millisecond))
	if m.Settings != nil {
		fmt.Fprintf(out, "  Workers:     %d\n", m.Settings.Workers)
	}
	fmt.Fprintln(out)

	// Top 10 heaviest edits.
	if len(m.Edits) > 0 {
		type editSize struct {
			key        string
			inputSize  int64
			outputSize int64
			crop       string
		}
		var items []editSize
		for key, e := range m.Edits {
			items = append(items, editSize{key, e.Source.Size, e.Output.Size, e.Params.Crop.String()})
		}
		sort.Slice(items, func(i, j int) bool {
			if items[i].inputSize != items[j].inputSize {
				return items[i].inputSize > items[j].inputSize
			}
			return items[i].key < items[j].key
		})
		n := min(len(items), 10)
		fmt.Fprintf(out, "  Top %d heaviest (source → exported):\n", n)
		for _, it := range items[:n] {
			fmt.Fprintf(out, "    %-40s %8s → %8s  %s\n",
				truncKey(it.key, 40),
				formatBytes(it.inputSize),
				formatBytes(it.outputSize),
				it.crop,
			)
		}
		fmt.Fprintln(out)
	}

	data, _ := json.Marshal(m)
	fmt.Fprintf(out, "  Manifest:    %s (%s)\n", manifest.FileName, formatBytes(int64(len(data))))
	fmt.Fprintln(out)
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func truncKey(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max+3:]
}
