// Package pipeline re-crops a directory of images with a preset.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/AnyUserName/imgedit/internal/blob"
	"github.com/AnyUserName/imgedit/internal/compositor"
	"github.com/AnyUserName/imgedit/internal/encoder"
	"github.com/AnyUserName/imgedit/internal/export"
	"github.com/AnyUserName/imgedit/internal/logging"
	"github.com/AnyUserName/imgedit/internal/manifest"
	"github.com/AnyUserName/imgedit/internal/profile"
	"github.com/AnyUserName/imgedit/internal/source"
	"github.com/AnyUserName/imgedit/internal/upload"
)

// Config holds all parameters for a batch run.
type Config struct {
	InputDir  string
	OutputDir string
	Profile   profile.Profile
	Workers   int
	// Uploader, if set, receives every export.
	Uploader     upload.Uploader
	UploadFields map[string]string
	Logger       *slog.Logger
}

// Pipeline orchestrates batch exports.
type Pipeline struct {
	cfg      Config
	log      *slog.Logger
	registry *encoder.Registry
	loader   *source.Loader
	exporter *export.Pipeline
}

// New creates a configured pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	log := logging.Or(cfg.Logger)
	registry := encoder.NewRegistry()
	comp, err := compositor.New(compositor.Options{
		Background: cfg.Profile.Background,
		Encoders:   registry,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	blobs := blob.NewRegistry("batch", log)
	return &Pipeline{
		cfg:      cfg,
		log:      log,
		registry: registry,
		loader:   source.NewLoader(source.Options{Logger: log}),
		exporter: export.New(export.Options{
			Renderer: comp,
			Blobs:    blobs,
			Uploader: cfg.Uploader,
			Format:   cfg.Profile.Format,
			Quality:  cfg.Profile.Quality,
			Fields:   cfg.UploadFields,
			Logger:   log,
		}),
	}, nil
}

// Run exports every image under InputDir and returns the manifest. Images
// that fail are logged and left out; Run fails only if every image failed.
func (p *Pipeline) Run(ctx context.Context) (*manifest.Manifest, error) {
	p.log.Debug("encoders", "available", p.registry.String())

	// Step 1: Scan for images.
	sources, err := ScanImages(p.cfg.InputDir, p.cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no images found in %s", p.cfg.InputDir)
	}
	p.log.Info("batch started", "images", len(sources), "workers", p.cfg.Workers)

	// Step 2: Process images in parallel.
	results := make([]processResult, len(sources))
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.Workers)

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()
			sem <- struct{}{}        // acquire
			defer func() { <-sem }() // release

			p.log.Debug("processing", "key", s.Key)
			results[idx] = p.processImage(ctx, s)
			if results[idx].err == nil {
				e := results[idx].edit
				p.log.Debug("done", "key", s.Key, "crop", e.Params.Crop.String(), "bytes", e.Output.Size)
			}
		}(i, src)
	}
	wg.Wait()

	// Step 3: Collect results into manifest.
	m := manifest.New(p.cfg.Profile.Name)

	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		m.Edits[r.key] = r.edit
	}

	// Report errors but don't fail the entire batch for partial failures.
	if len(errs) > 0 {
		for _, e := range errs {
			p.log.Error("image failed", "error", e)
		}
		if len(errs) == len(sources) {
			return nil, fmt.Errorf("all %d images failed to process", len(errs))
		}
		p.log.Warn("batch finished with errors", "failed", len(errs), "total", len(sources))
	}

	m.Settings = &manifest.Settings{
		Aspect:  p.cfg.Profile.AspectLabel(),
		Format:  p.cfg.Profile.Format,
		Quality: p.cfg.Profile.Quality,
		Workers: p.cfg.Workers,
	}
	m.ComputeStats()
	return m, nil
}
