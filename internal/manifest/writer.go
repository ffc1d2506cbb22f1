package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// New creates an empty manifest with defaults.
func New(profileName string) *Manifest {
	return &Manifest{
		Version:     SupportedManifestVersion,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Profile:     profileName,
		BasePath:    "./",
		Edits:       make(map[string]Edit),
	}
}

// ComputeStats recalculates aggregate statistics from edits.
func (m *Manifest) ComputeStats() {
	var s Stats
	s.TotalEdits = len(m.Edits)
	for _, e := range m.Edits {
		s.TotalInputBytes += e.Source.Size
		s.TotalOutputBytes += e.Output.Size
		if e.UploadURL != "" {
			s.Uploaded++
		}
		if e.UploadError != "" {
			s.UploadFailed++
		}
	}
	m.Stats = s
}

// WriteJSON serializes the manifest to a JSON file with stable ordering.
func WriteJSON(m *Manifest, path string) error {
	m.ComputeStats()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON loads a manifest. A directory argument reads FileName inside it.
func ReadJSON(path string) (*Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Validate checks the manifest invariants and that every output file exists
// under baseDir with the recorded size. It returns one message per problem.
func Validate(m *Manifest, baseDir string) []string {
	var errs []string

	if m.Version != SupportedManifestVersion {
		errs = append(errs, fmt.Sprintf("unsupported manifest version: %d", m.Version))
	}

	seenPaths := map[string]string{}
	for key, e := range m.Edits {
		if e.Source.Width <= 0 || e.Source.Height <= 0 {
			errs = append(errs, fmt.Sprintf("edit %q: invalid source dimensions %dx%d",
				key, e.Source.Width, e.Source.Height))
		}

		c := e.Params.Crop
		if c.Empty() {
			errs = append(errs, fmt.Sprintf("edit %q: empty crop %s", key, c))
		} else if c.X < 0 || c.Y < 0 || c.X+c.Width > e.Source.Width || c.Y+c.Height > e.Source.Height {
			errs = append(errs, fmt.Sprintf("edit %q: crop %s outside %dx%d source",
				key, c, e.Source.Width, e.Source.Height))
		}
		if e.Params.Scale < 0.1 || e.Params.Scale > 3 {
			errs = append(errs, fmt.Sprintf("edit %q: scale %.3f out of range", key, e.Params.Scale))
		}
		if e.Params.Rotation < 0 || e.Params.Rotation >= 360 {
			errs = append(errs, fmt.Sprintf("edit %q: rotation %d not normalised", key, e.Params.Rotation))
		}

		o := e.Output
		if o.Width != c.Width || o.Height != c.Height {
			errs = append(errs, fmt.Sprintf("edit %q: output %dx%d does not match crop %dx%d",
				key, o.Width, o.Height, c.Width, c.Height))
		}
		if o.Hash == "" {
			errs = append(errs, fmt.Sprintf("edit %q: missing hash", key))
		}
		if o.Path == "" {
			errs = append(errs, fmt.Sprintf("edit %q: missing path", key))
			continue
		}
		if other, dup := seenPaths[o.Path]; dup {
			errs = append(errs, fmt.Sprintf("edit %q: path %q already used by %q", key, o.Path, other))
		}
		seenPaths[o.Path] = key

		info, err := os.Stat(filepath.Join(baseDir, o.Path))
		if err != nil {
			errs = append(errs, fmt.Sprintf("edit %q: file not found: %s", key, o.Path))
		} else if o.Size > 0 && info.Size() != o.Size {
			errs = append(errs, fmt.Sprintf("edit %q: size mismatch: manifest=%d, disk=%d",
				key, o.Size, info.Size()))
		}
	}

	if m.Stats.TotalEdits != len(m.Edits) {
		errs = append(errs, fmt.Sprintf("stats.total_edits mismatch: %d != %d", m.Stats.TotalEdits, len(m.Edits)))
	}
	return errs
}
