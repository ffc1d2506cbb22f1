package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AnyUserName/imgedit/internal/geometry"
	"github.com/AnyUserName/imgedit/internal/manifest"
)

// processResult holds the result of processing a single source image.
type processResult struct {
	key  string
	edit manifest.Edit
	err  error
}

// processImage decodes one source, exports the preset's centred crop and
// writes it under OutputDir.
func (p *Pipeline) processImage(ctx context.Context, src Source) processResult {
	result := processResult{key: src.Key}

	r, err := p.loader.Load(ctx, src.AbsPath)
	if err != nil {
		result.err = fmt.Errorf("%s: %w", src.RelPath, err)
		return result
	}

	params, err := geometry.InitialParams(r.Width, r.Height, p.cfg.Profile.Aspect, p.cfg.Profile.Coverage)
	if err != nil {
		result.err = fmt.Errorf("%s: %w", src.RelPath, err)
		return result
	}

	res, err := p.exporter.Commit(ctx, r, params)
	if err != nil {
		result.err = fmt.Errorf("%s: %w", src.RelPath, err)
		return result
	}
	defer res.Release()

	// Build filename: key.w.h.hash.ext
	keyDir := filepath.Dir(src.Key)
	ext := filepath.Ext(res.Name)
	fileName := fmt.Sprintf("%s.%d.%d.%s%s", filepath.Base(src.Key), res.Width, res.Height, res.Hash[:8], ext)
	relPath := filepath.ToSlash(filepath.Join(keyDir, fileName))

	outPath := filepath.Join(p.cfg.OutputDir, relPath)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		result.err = fmt.Errorf("create dir for %s: %w", relPath, err)
		return result
	}
	if err := os.WriteFile(outPath, res.Data, 0o644); err != nil {
		result.err = fmt.Errorf("write %s: %w", relPath, err)
		return result
	}

	result.edit = manifest.Edit{
		Source: manifest.SourceInfo{
			Ref:         src.RelPath,
			Width:       r.Width,
			Height:      r.Height,
			Format:      r.Format,
			Size:        src.Size,
			OriginClean: r.OriginClean,
		},
		Params: params,
		Output: manifest.Output{
			Format: res.Format,
			Width:  res.Width,
			Height: res.Height,
			Size:   int64(len(res.Data)),
			Hash:   res.Hash,
			Path:   relPath,
		},
		Advisory: p.cfg.Profile.Advisory(res.Width, res.Height),
	}

	url, err := res.Wait(ctx)
	if err != nil {
		result.edit.UploadError = err.Error()
		p.log.Warn("upload failed", "key", src.Key, "error", err)
	}
	result.edit.UploadURL = url
	return result
}
