package manifest

import "github.com/AnyUserName/imgedit/internal/geometry"

// Manifest is the record written next to exported images.
type Manifest struct {
	Version     int             `json:"version"`
	GeneratedAt string          `json:"generated_at"`
	Profile     string          `json:"profile"`
	BasePath    string          `json:"base_path"`
	Settings    *Settings       `json:"settings,omitempty"`
	Edits       map[string]Edit `json:"edits"`
	Stats       Stats           `json:"stats"`
}

// Settings captures the parameters the edits were produced with.
type Settings struct {
	Aspect  string `json:"aspect"`
	Format  string `json:"format"`
	Quality int    `json:"quality"`
	Workers int    `json:"workers,omitempty"`
}

// Edit describes one source image and its exported result.
type Edit struct {
	Source      SourceInfo               `json:"source"`
	Params      geometry.TransformParams `json:"params"`
	Output      Output                   `json:"output"`
	UploadURL   string                   `json:"upload_url,omitempty"`
	UploadError string                   `json:"upload_error,omitempty"`
	Advisory    string                   `json:"advisory,omitempty"`
}

// SourceInfo holds metadata about the source image.
type SourceInfo struct {
	Ref         string `json:"ref"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Format      string `json:"format"`
	Size        int64  `json:"size,omitempty"`
	OriginClean bool   `json:"origin_clean"`
}

// Output is the encoded export.
type Output struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"` // bytes on disk
	Hash   string `json:"hash"` // 16 hex chars of xxhash64
	Path   string `json:"path"` // relative to base_path
}

// Stats aggregates a run.
type Stats struct {
	TotalInputBytes  int64 `json:"total_input_bytes"`
	TotalOutputBytes int64 `json:"total_output_bytes"`
	TotalEdits       int   `json:"total_edits"`
	Uploaded         int   `json:"uploaded,omitempty"`
	UploadFailed     int   `json:"upload_failed,omitempty"`
}

// SupportedManifestVersion is the current schema version.
const SupportedManifestVersion = 1

// FileName is the default record name inside an output directory.
const FileName = "imgedit.manifest.json"
