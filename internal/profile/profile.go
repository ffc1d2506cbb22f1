// Package profile holds named editing presets.
package profile

import (
	"fmt"
	"sort"
	"time"

	"github.com/AnyUserName/imgedit/internal/geometry"
)

// Profile defines the editing parameters for one kind of image slot.
type Profile struct {
	Name string
	// Aspect is width/height of the crop; 0 keeps the source ratio.
	Aspect float64
	// Coverage is the initial crop width in percent of the source.
	Coverage float64
	// MinWidth and MinHeight are the recommended output size. Smaller
	// crops are accepted with an advisory.
	MinWidth  int
	MinHeight int
	// PreviewScale multiplies the crop size for previews.
	PreviewScale float64
	// Settle is the preview debounce period.
	Settle     time.Duration
	Quality    int    // encoding quality 1-100
	Format     string // output format
	Background string // fill colour behind the image
}

var profiles = map[string]Profile{
	"cover": {
		Name:         "cover",
		Aspect:       3.0 / 2.0,
		Coverage:     geometry.DefaultCoverage,
		MinWidth:     1200,
		MinHeight:    800,
		PreviewScale: 2,
		Settle:       150 * time.Millisecond,
		Quality:      95,
		Format:       "jpeg",
		Background:   "#ffffff",
	},
	"avatar": {
		Name:         "avatar",
		Aspect:       1,
		Coverage:     geometry.DefaultCoverage,
		MinWidth:     400,
		MinHeight:    400,
		PreviewScale: 2,
		Settle:       150 * time.Millisecond,
		Quality:      95,
		Format:       "jpeg",
		Background:   "#ffffff",
	},
	"banner": {
		Name:         "banner",
		Aspect:       16.0 / 9.0,
		Coverage:     geometry.DefaultCoverage,
		MinWidth:     1920,
		MinHeight:    1080,
		PreviewScale: 2,
		Settle:       150 * time.Millisecond,
		Quality:      95,
		Format:       "jpeg",
		Background:   "#ffffff",
	},
	"free": {
		Name:         "free",
		Aspect:       0,
		Coverage:     geometry.DefaultCoverage,
		PreviewScale: 2,
		Settle:       150 * time.Millisecond,
		Quality:      95,
		Format:       "jpeg",
		Background:   "#ffffff",
	},
}

// Default is the preset used for unknown names.
const Default = "cover"

// Get returns a profile by name. Falls back to cover if unknown.
func Get(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	p := profiles[Default]
	p.Name = name // preserve requested name
	return p
}

// Lookup is Get without the fallback.
func Lookup(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// Names lists the built-in presets.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Advisory returns a warning when a crop of w×h is below the recommended
// size, or "" when it is large enough. It never rejects the crop.
func (p Profile) Advisory(w, h int) string {
	if p.MinWidth <= 0 && p.MinHeight <= 0 {
		return ""
	}
	if w >= p.MinWidth && h >= p.MinHeight {
		return ""
	}
	return fmt.Sprintf("image is %dx%d; %dx%d or larger is recommended for %s",
		w, h, p.MinWidth, p.MinHeight, p.Name)
}

// AspectLabel renders the aspect ratio for display ("3:2", "free").
func (p Profile) AspectLabel() string {
	switch p.Aspect {
	case 0:
		return "free"
	case 3.0 / 2.0:
		return "3:2"
	case 1:
		return "1:1"
	case 16.0 / 9.0:
		return "16:9"
	}
	return fmt.Sprintf("%.4g", p.Aspect)
}
