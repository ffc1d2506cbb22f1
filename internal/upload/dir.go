package upload

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// DirUploader stores files in a local directory and returns file:// URLs.
type DirUploader struct {
	Dir string
}

// Upload implements Uploader. Fields are ignored.
func (d *DirUploader) Upload(ctx context.Context, f File) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Name == "" || f.Name != filepath.Base(f.Name) {
		return &Response{Error: fmt.Sprintf("invalid file name %q", f.Name)}, nil
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(d.Dir, f.Name)
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return &Response{Success: true, URL: u.String()}, nil
}
