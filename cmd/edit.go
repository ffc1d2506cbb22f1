package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/imgedit/internal/blob"
	"github.com/AnyUserName/imgedit/internal/editerr"
	"github.com/AnyUserName/imgedit/internal/editor"
	"github.com/AnyUserName/imgedit/internal/geometry"
	"github.com/AnyUserName/imgedit/internal/manifest"
	"github.com/AnyUserName/imgedit/internal/preview"
	"github.com/AnyUserName/imgedit/internal/upload"
)

var (
	editOutDir      string
	editCrop        string
	editCropPct     string
	editScale       float64
	editRotate      int
	editZoomSteps   int
	editRotateSteps int
	editPreview     string
	editQuality     int
	editUploadURL   string
	editUploadDir   string
	editAltText     string
	editBucket      string
	editTimeout     time.Duration
)

// maxUploadBytes matches the storage endpoint's limit.
const maxUploadBytes = 5 << 20

var editCmd = &cobra.Command{
	Use:   "edit <image>",
	Short: "Crop, zoom and rotate one image and export it",
	Long: `Opens an image (file path, http(s) URL or data: URL), applies the preset's
centred crop or the one given with --crop/--crop-pct, then zoom and rotation,
and exports a JPEG at the crop's natural resolution.

The export is written to --out-dir immediately; with --upload-url or
--upload-dir it is also uploaded and the durable URL recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	f := editCmd.Flags()
	f.StringVarP(&editOutDir, "out-dir", "o", "./imgedit_out", "output directory")
	f.StringVar(&editCrop, "crop", "", "crop in natural pixels: x,y,w,h")
	f.StringVar(&editCropPct, "crop-pct", "", "crop in percent of the image: x,y,w,h")
	f.Float64Var(&editScale, "scale", 1, "zoom factor (0.1-3)")
	f.IntVar(&editRotate, "rotate", 0, "rotation in degrees, clockwise")
	f.IntVar(&editZoomSteps, "zoom-steps", 0, "zoom in (+) or out (-) by 0.1 steps")
	f.IntVar(&editRotateSteps, "rotate-steps", 0, "rotate by 15° steps (+ clockwise)")
	f.StringVar(&editPreview, "preview", "", "also write the 2x preview to this path")
	f.IntVarP(&editQuality, "quality", "q", 0, "quality 1-100 (0 = preset default)")
	f.StringVar(&editUploadURL, "upload-url", "", "multipart upload endpoint")
	f.StringVar(&editUploadDir, "upload-dir", "", "store uploads in this directory instead")
	f.StringVar(&editAltText, "alt-text", "", "alt text sent with the upload")
	f.StringVar(&editBucket, "bucket", "", "target bucket sent with the upload")
	f.DurationVar(&editTimeout, "timeout", 60*time.Second, "overall timeout")
	rootCmd.AddCommand(editCmd)
}

func runEdit(cmd *cobra.Command, args []string) error {
	ref := args[0]
	out := cmd.OutOrStdout()

	prof, err := resolveProfile()
	if err != nil {
		return err
	}
	if editQuality > 0 {
		prof.Quality = editQuality
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), editTimeout)
	defer cancel()

	uploader, fields := editUploader()
	sess, err := editor.New(editor.Options{
		Profile:      prof,
		Origin:       origin,
		Trusted:      trusted,
		Uploader:     uploader,
		UploadFields: fields,
		OnPreview: func(st preview.Status) {
			logVerbose("preview %s %dx%d", st.State, st.Width, st.Height)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := openRef(ctx, sess, ref); err != nil {
		logError("open failed", err)
		return fmt.Errorf("%s (%w)", editerr.UserMessage(err), err)
	}
	r := sess.Raster()
	logVerbose("opened %s: %dx%d %s, origin clean=%v", ref, r.Width, r.Height, r.Format, r.OriginClean)

	if err := applyEdits(cmd, sess); err != nil {
		return err
	}
	params := sess.Params()
	fmt.Fprintf(out, "  Crop:      %s (%s)\n", params.Crop, prof.AspectLabel())
	fmt.Fprintf(out, "  Zoom:      %.1fx\n", params.Scale)
	fmt.Fprintf(out, "  Rotation:  %d°\n", params.Rotation)
	if adv := sess.Advisory(); adv != "" {
		fmt.Fprintf(out, "  ⚠ %s\n", adv)
	}

	if editPreview != "" {
		if err := writePreview(ctx, sess, editPreview); err != nil {
			return err
		}
		fmt.Fprintf(out, "  Preview:   %s\n", editPreview)
	}

	res, err := sess.Commit(ctx)
	if err != nil {
		logError("export failed", err)
		return fmt.Errorf("%s (%w)", editerr.UserMessage(err), err)
	}
	defer res.Release()

	if err := os.MkdirAll(editOutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	outPath := filepath.Join(editOutDir, res.Name)
	if err := os.WriteFile(outPath, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	fmt.Fprintf(out, "  Output:    %s (%dx%d, %s)\n", outPath, res.Width, res.Height, formatBytes(int64(len(res.Data))))
	logVerbose("local handle %s", res.Handle.URL())

	edit := manifest.Edit{
		Source: manifest.SourceInfo{
			Ref:         ref,
			Width:       r.Width,
			Height:      r.Height,
			Format:      r.Format,
			OriginClean: r.OriginClean,
		},
		Params: params,
		Output: manifest.Output{
			Format: res.Format,
			Width:  res.Width,
			Height: res.Height,
			Size:   int64(len(res.Data)),
			Hash:   res.Hash,
			Path:   res.Name,
		},
		Advisory: sess.Advisory(),
	}

	if uploader != nil {
		url, err := res.Wait(ctx)
		if err != nil {
			// The local export stands; only the upload is reported.
			edit.UploadError = err.Error()
			fmt.Fprintf(out, "  ✗ Upload:  %s\n", editerr.UserMessage(err))
			logError("upload failed", err)
		} else {
			edit.UploadURL = url
			fmt.Fprintf(out, "  Uploaded:  %s\n", url)
		}
	}

	m := manifest.New(prof.Name)
	m.Settings = &manifest.Settings{Aspect: prof.AspectLabel(), Format: res.Format, Quality: prof.Quality}
	m.Edits[editKey(ref)] = edit
	manifestPath := filepath.Join(editOutDir, manifest.FileName)
	if err := manifest.WriteJSON(m, manifestPath); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	fmt.Fprintf(out, "  Manifest:  %s\n", manifestPath)
	return nil
}

// openRef opens local files through a registered buffer, the way a picked
// file is handed to the editor; URLs are opened directly.
func openRef(ctx context.Context, sess *editor.Session, ref string) error {
	if isURLRef(ref) {
		return sess.Open(ctx, ref)
	}
	f, err := os.Open(ref)
	if err != nil {
		return editerr.New(editerr.Decode, "cmd.open", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return editerr.New(editerr.Decode, "cmd.open", err)
	}
	return sess.Open(ctx, sess.Register(data, http.DetectContentType(data)))
}

func isURLRef(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "data:") || blob.IsURL(ref)
}

func applyEdits(cmd *cobra.Command, sess *editor.Session) error {
	flags := cmd.Flags()
	switch {
	case editCrop != "":
		px, err := geometry.ParsePixelRect(editCrop)
		if err != nil {
			return err
		}
		if _, err := sess.SetCrop(px); err != nil {
			return fmt.Errorf("crop: %w", err)
		}
	case editCropPct != "":
		pct, err := geometry.ParsePercentRect(editCropPct)
		if err != nil {
			return err
		}
		if _, err := sess.SetCropPercent(pct); err != nil {
			return fmt.Errorf("crop: %w", err)
		}
	}
	if flags.Changed("scale") {
		sess.SetScale(editScale)
	}
	if editZoomSteps != 0 {
		sess.Zoom(editZoomSteps)
	}
	if flags.Changed("rotate") {
		sess.SetRotation(editRotate)
	}
	if editRotateSteps != 0 {
		sess.Rotate(editRotateSteps)
	}
	return nil
}

func writePreview(ctx context.Context, sess *editor.Session, path string) error {
	if err := sess.FlushPreview(ctx); err != nil {
		return fmt.Errorf("preview: %s (%w)", editerr.UserMessage(err), err)
	}
	h := sess.Preview()
	if h == nil {
		return fmt.Errorf("preview: nothing rendered")
	}
	defer h.Release()
	data, err := h.Bytes()
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func editUploader() (upload.Uploader, map[string]string) {
	fields := map[string]string{}
	if editAltText != "" {
		fields["alt_text"] = editAltText
	}
	if editBucket != "" {
		fields["targetBucket"] = editBucket
	}
	switch {
	case editUploadURL != "":
		return &upload.HTTPUploader{Endpoint: editUploadURL, MaxBytes: maxUploadBytes, Logger: logger}, fields
	case editUploadDir != "":
		return &upload.DirUploader{Dir: editUploadDir}, fields
	}
	return nil, fields
}

// editKey names the record entry after the source file.
func editKey(ref string) string {
	if isURLRef(ref) {
		if i := strings.LastIndex(ref, "/"); i >= 0 && !strings.HasPrefix(ref, "data:") {
			ref = ref[i+1:]
		} else {
			return "image"
		}
	}
	base := filepath.Base(ref)
	if k := strings.TrimSuffix(base, filepath.Ext(base)); k != "" {
		return k
	}
	return "image"
}
