// Package params holds the per-family parameter bounds as data and the
// validation that gates job submission.
package params

import (
	"time"

	"github.com/shouni/bfl-image-kit/pkg/domain"
)

const (
	ModelFluxProUltra = "flux-pro-1.1-ultra"
	ModelFluxPro11    = "flux-pro-1.1"
	ModelFluxPro      = "flux-pro"
	ModelFluxDev      = "flux-dev"
	ModelKontextPro   = "flux-kontext-pro"
	ModelKontextMax   = "flux-kontext-max"
	ModelFluxFill     = "flux-pro-1.0-fill"
)

const (
	DefaultAspectRatio = "1:1"
	DefaultMaxSize     = 1024
	MinMaxSize         = 256
	MaxMaxSize         = 1440
	SizeStep           = 32
)

// Bounds は Family ごとの許容範囲と既定値です。
type Bounds struct {
	Family       domain.Family
	Models       []string
	DefaultModel string

	// MinRatio/MaxRatio がゼロ値の Family は aspect_ratio を受け付けません。
	MinRatio     Ratio
	MaxRatio     Ratio
	AspectRatios []string

	SafetyMin     int
	SafetyMax     int
	SafetyDefault int

	RequiresPrompt     bool
	RequiresInputImage bool
	RequiresMask       bool

	StepsMin, StepsMax, StepsDefault          int
	GuidanceMin, GuidanceMax, GuidanceDefault float64

	PollTimeout time.Duration
}

// SupportsAspectRatio reports whether the family takes an aspect_ratio.
func (b Bounds) SupportsAspectRatio() bool {
	return !b.MaxRatio.IsZero()
}

// AllowsModel reports whether model is one of the family's endpoints.
func (b Bounds) AllowsModel(model string) bool {
	for _, m := range b.Models {
		if m == model {
			return true
		}
	}
	return false
}

var kontextRatios = []string{"3:7", "9:16", "2:3", "3:4", "1:1", "4:3", "3:2", "16:9", "7:3"}

var table = map[domain.Family]Bounds{
	domain.FamilyFluxText: {
		Family:         domain.FamilyFluxText,
		Models:         []string{ModelFluxProUltra, ModelFluxPro11, ModelFluxPro, ModelFluxDev},
		DefaultModel:   ModelFluxPro11,
		MinRatio:       Ratio{W: 9, H: 21},
		MaxRatio:       Ratio{W: 21, H: 9},
		AspectRatios:   []string{"9:21", "9:16", "2:3", "3:4", "1:1", "4:3", "3:2", "16:9", "21:9"},
		SafetyMin:      1,
		SafetyMax:      6,
		SafetyDefault:  2,
		RequiresPrompt: true,
		PollTimeout:    5 * time.Minute,
	},
	domain.FamilyKontextText: {
		Family:         domain.FamilyKontextText,
		Models:         []string{ModelKontextPro, ModelKontextMax},
		DefaultModel:   ModelKontextPro,
		MinRatio:       Ratio{W: 3, H: 7},
		MaxRatio:       Ratio{W: 7, H: 3},
		AspectRatios:   kontextRatios,
		SafetyMin:      0,
		SafetyMax:      2,
		SafetyDefault:  2,
		RequiresPrompt: true,
		PollTimeout:    3 * time.Minute,
	},
	domain.FamilyKontextEdit: {
		Family:             domain.FamilyKontextEdit,
		Models:             []string{ModelKontextPro, ModelKontextMax},
		DefaultModel:       ModelKontextPro,
		MinRatio:           Ratio{W: 3, H: 7},
		MaxRatio:           Ratio{W: 7, H: 3},
		AspectRatios:       kontextRatios,
		SafetyMin:          0,
		SafetyMax:          6,
		SafetyDefault:      6,
		RequiresPrompt:     true,
		RequiresInputImage: true,
		PollTimeout:        7*time.Minute + 30*time.Second,
	},
	domain.FamilyFluxFill: {
		Family:             domain.FamilyFluxFill,
		Models:             []string{ModelFluxFill},
		DefaultModel:       ModelFluxFill,
		SafetyMin:          0,
		SafetyMax:          6,
		SafetyDefault:      2,
		RequiresInputImage: true,
		RequiresMask:       true,
		StepsMin:           15,
		StepsMax:           50,
		StepsDefault:       50,
		GuidanceMin:        1.5,
		GuidanceMax:        100,
		GuidanceDefault:    30,
		PollTimeout:        7*time.Minute + 30*time.Second,
	},
}

// For returns the bounds of family.
func For(family domain.Family) (Bounds, bool) {
	b, ok := table[family]
	return b, ok
}

// UsesDimensions は width/height を送るモデルかどうかを返します (ultra 以外の FLUX)。
func UsesDimensions(model string) bool {
	switch model {
	case ModelFluxPro11, ModelFluxPro, ModelFluxDev:
		return true
	}
	return false
}

// SupportsRaw reports whether the FLUX endpoint takes the raw flag.
func SupportsRaw(model string) bool {
	switch model {
	case ModelFluxProUltra, ModelFluxPro11, ModelFluxPro:
		return true
	}
	return false
}

// Options は UI に並べる選択肢です。
type Options struct {
	Models           []string
	DefaultModel     string
	AspectRatios     []string
	SafetyTolerances []int
	SafetyDefault    int
	OutputFormats    []domain.OutputFormat
}

// Choices returns the enumerated options of family.
func Choices(family domain.Family) (Options, bool) {
	b, ok := For(family)
	if !ok {
		return Options{}, false
	}
	safety := make([]int, 0, b.SafetyMax-b.SafetyMin+1)
	for v := b.SafetyMin; v <= b.SafetyMax; v++ {
		safety = append(safety, v)
	}
	return Options{
		Models:           append([]string(nil), b.Models...),
		DefaultModel:     b.DefaultModel,
		AspectRatios:     append([]string(nil), b.AspectRatios...),
		SafetyTolerances: safety,
		SafetyDefault:    b.SafetyDefault,
		OutputFormats:    []domain.OutputFormat{domain.FormatJPEG, domain.FormatPNG},
	}, true
}
