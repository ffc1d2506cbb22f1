package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AnyUserName/imgedit/internal/geometry"
)

func sampleEdit() Edit {
	return Edit{
		Source: SourceInfo{Ref: "cover.png", Width: 1200, Height: 800, Format: "png", Size: 100000, OriginClean: true},
		Params: geometry.TransformParams{
			Scale:    2,
			Rotation: 15,
			Crop:     geometry.PixelRect{X: 60, Y: 40, Width: 1080, Height: 720},
		},
		Output:    Output{Format: "jpeg", Width: 1080, Height: 720, Size: 7, Hash: "0123456789abcdef", Path: "edited-0123456789ab.jpg"},
		UploadURL: "https://cdn.example/edited-0123456789ab.jpg",
	}
}

func TestManifestRoundtrip(t *testing.T) {
	m := New("cover")
	m.Settings = &Settings{Aspect: "3:2", Format: "jpeg", Quality: 95, Workers: 4}
	m.Edits["cover"] = sampleEdit()

	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := WriteJSON(m, path); err != nil {
		t.Fatalf("write: %v", err)
	}

	m2, err := ReadJSON(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if m2.Version != SupportedManifestVersion {
		t.Errorf("version: got %d, want %d", m2.Version, SupportedManifestVersion)
	}
	if m2.Profile != "cover" {
		t.Errorf("profile: got %q", m2.Profile)
	}
	if m2.Settings == nil || m2.Settings.Workers != 4 || m2.Settings.Quality != 95 {
		t.Fatalf("settings: got %+v", m2.Settings)
	}

	e, ok := m2.Edits["cover"]
	if !ok {
		t.Fatal("edit cover missing")
	}
	if e.Params.Crop != (geometry.PixelRect{X: 60, Y: 40, Width: 1080, Height: 720}) {
		t.Errorf("crop: got %+v", e.Params.Crop)
	}
	if e.Params.Scale != 2 || e.Params.Rotation != 15 {
		t.Errorf("params: got %+v", e.Params)
	}

	if m2.Stats.TotalEdits != 1 || m2.Stats.Uploaded != 1 || m2.Stats.TotalOutputBytes != 7 {
		t.Errorf("stats: got %+v", m2.Stats)
	}
}

func TestManifestVersion(t *testing.T) {
	m := New("v-test")
	if m.Version != SupportedManifestVersion {
		t.Errorf("new manifest version: got %d, want %d", m.Version, SupportedManifestVersion)
	}
}

func TestManifestIgnoresUnknownFields(t *testing.T) {
	raw := `{
		"version": 1,
		"generated_at": "2025-01-01T00:00:00Z",
		"profile": "test",
		"base_path": "./",
		"future_field": "should be ignored",
		"settings": { "aspect": "1:1", "format": "jpeg", "quality": 90, "new_flag": true },
		"edits": {},
		"stats": { "total_input_bytes": 0, "total_output_bytes": 0, "total_edits": 0, "new_stat": 42 }
	}`

	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal with unknown fields: %v", err)
	}
	if m.Version != 1 {
		t.Errorf("version: got %d", m.Version)
	}
	if m.Settings == nil || m.Settings.Aspect != "1:1" {
		t.Error("settings not parsed correctly")
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	e := sampleEdit()
	if err := os.WriteFile(filepath.Join(dir, e.Output.Path), []byte("jpegdat"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New("cover")
	m.Edits["cover"] = e
	m.ComputeStats()
	if errs := Validate(m, dir); len(errs) != 0 {
		t.Fatalf("valid manifest reported: %v", errs)
	}

	bad := e
	bad.Params.Crop = geometry.PixelRect{X: 200, Y: 40, Width: 1080, Height: 720}
	bad.Params.Rotation = 360
	bad.Output.Path = "missing.jpg"
	m.Edits["bad"] = bad
	m.Version = 2

	errs := Validate(m, dir)
	want := []string{"unsupported manifest version", "outside 1200x800", "rotation 360", "file not found", "stats.total_edits"}
	joined := strings.Join(errs, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("missing %q in:\n%s", w, joined)
		}
	}
}

func TestValidate_SizeMismatchAndDuplicatePath(t *testing.T) {
	dir := t.TempDir()
	e := sampleEdit()
	if err := os.WriteFile(filepath.Join(dir, e.Output.Path), []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := New("cover")
	m.Edits["a"] = e
	m.Edits["b"] = e
	m.ComputeStats()

	joined := strings.Join(Validate(m, dir), "\n")
	if !strings.Contains(joined, "size mismatch") {
		t.Errorf("size mismatch not reported:\n%s", joined)
	}
	if !strings.Contains(joined, "already used by") {
		t.Errorf("duplicate path not reported:\n%s", joined)
	}
}
