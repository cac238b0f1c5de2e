package params

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shouni/bfl-image-kit/pkg/domain"
)

// WithDefaults は未指定の項目に Family の既定値を入れたコピーを返します。
// 未知の Family はそのまま返し、Validate で弾きます。
func WithDefaults(req domain.GenerationRequest) domain.GenerationRequest {
	b, ok := For(req.Family)
	if !ok {
		return req
	}
	out := req
	if strings.TrimSpace(out.Model) == "" {
		out.Model = b.DefaultModel
	}
	if b.SupportsAspectRatio() && strings.TrimSpace(out.AspectRatio) == "" {
		out.AspectRatio = DefaultAspectRatio
	}
	if req.Family == domain.FamilyFluxText && out.MaxSize == 0 {
		out.MaxSize = DefaultMaxSize
	}
	if out.SafetyTolerance == nil {
		v := b.SafetyDefault
		out.SafetyTolerance = &v
	}
	if out.OutputFormat == "" {
		out.OutputFormat = domain.FormatJPEG
	}
	if req.Family == domain.FamilyFluxFill {
		if out.Steps == 0 {
			out.Steps = b.StepsDefault
		}
		if out.Guidance == 0 {
			out.Guidance = b.GuidanceDefault
		}
	}
	return out
}

// Validate はネットワーク呼び出しの前に request を検査し、問題をすべてまとめた
// ValidationError を返します。
func Validate(req domain.GenerationRequest) error {
	b, ok := For(req.Family)
	if !ok {
		return invalid(req, fmt.Errorf("unknown family %q", req.Family))
	}

	var problems []error
	if !b.AllowsModel(req.Model) {
		problems = append(problems, fmt.Errorf("model %q is not allowed, expected one of %s", req.Model, strings.Join(b.Models, ", ")))
	}
	if b.RequiresPrompt && strings.TrimSpace(req.Prompt) == "" {
		problems = append(problems, errors.New("prompt is required and cannot be empty"))
	}

	if b.SupportsAspectRatio() {
		if err := checkRatio(b, req.AspectRatio); err != nil {
			problems = append(problems, err)
		}
	} else if strings.TrimSpace(req.AspectRatio) != "" {
		problems = append(problems, fmt.Errorf("aspect_ratio is not supported by %s", req.Family))
	}

	if req.Family == domain.FamilyFluxText && UsesDimensions(req.Model) && req.MaxSize != 0 {
		if req.MaxSize < MinMaxSize || req.MaxSize > MaxMaxSize || req.MaxSize%SizeStep != 0 {
			problems = append(problems, fmt.Errorf("max_size %d must be a multiple of %d between %d and %d", req.MaxSize, SizeStep, MinMaxSize, MaxMaxSize))
		}
	}

	if req.SafetyTolerance != nil {
		if v := *req.SafetyTolerance; v < b.SafetyMin || v > b.SafetyMax {
			problems = append(problems, fmt.Errorf("safety_tolerance %d is outside %d-%d", v, b.SafetyMin, b.SafetyMax))
		}
	}

	switch req.OutputFormat {
	case "", domain.FormatJPEG, domain.FormatPNG:
	default:
		problems = append(problems, fmt.Errorf("output_format %q must be jpeg or png", req.OutputFormat))
	}

	if b.RequiresInputImage && req.InputImage.IsZero() {
		problems = append(problems, errors.New("input_image is required"))
	}
	if b.RequiresMask && req.Mask.IsZero() {
		problems = append(problems, errors.New("mask_image is required"))
	}

	if req.Family == domain.FamilyFluxFill {
		if req.Steps != 0 && (req.Steps < b.StepsMin || req.Steps > b.StepsMax) {
			problems = append(problems, fmt.Errorf("steps %d is outside %d-%d", req.Steps, b.StepsMin, b.StepsMax))
		}
		if req.Guidance != 0 && (req.Guidance < b.GuidanceMin || req.Guidance > b.GuidanceMax) {
			problems = append(problems, fmt.Errorf("guidance %g is outside %g-%g", req.Guidance, b.GuidanceMin, b.GuidanceMax))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return invalid(req, errors.Join(problems...))
}

func checkRatio(b Bounds, s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	r, err := ParseRatio(s)
	if err != nil {
		return err
	}
	if !r.Within(b.MinRatio, b.MaxRatio) {
		// 範囲表記は横長側から縦長側へ (例: 21:9 … 9:21)
		return fmt.Errorf("aspect_ratio %s is outside %s..%s", r, b.MaxRatio, b.MinRatio)
	}
	return nil
}

func invalid(req domain.GenerationRequest, cause error) error {
	e := domain.NewError(domain.KindValidation, "validate", "invalid request").WithCause(cause)
	e.Family = req.Family
	e.Model = req.Model
	return e
}
