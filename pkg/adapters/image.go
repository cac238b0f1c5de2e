package adapters

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/params"
)

// EncodedImages は base64 化済みの入力画像です。Family が使わないものは空のままです。
type EncodedImages struct {
	InputImage string
	Mask       string
}

// Payload は 1 回の投入に使うリクエストボディです。
type Payload struct {
	// Model はエンドポイント名 (POST /v1/{Model}) です。
	Model string
	Body  []byte
	// Redacted は画像フィールドを長さに置き換えたログ用の JSON です。
	Redacted string
}

type fluxBody struct {
	Prompt          string `json:"prompt"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	Raw             *bool  `json:"raw,omitempty"`
	Seed            *int64 `json:"seed,omitempty"`
	SafetyTolerance int    `json:"safety_tolerance"`
	OutputFormat    string `json:"output_format"`
}

type kontextBody struct {
	Prompt           string `json:"prompt"`
	InputImage       string `json:"input_image,omitempty"`
	AspectRatio      string `json:"aspect_ratio,omitempty"`
	PromptUpsampling bool   `json:"prompt_upsampling"`
	Seed             *int64 `json:"seed,omitempty"`
	SafetyTolerance  int    `json:"safety_tolerance"`
	OutputFormat     string `json:"output_format"`
}

type fillBody struct {
	Image            string  `json:"image"`
	Mask             string  `json:"mask"`
	Prompt           string  `json:"prompt,omitempty"`
	Steps            int     `json:"steps"`
	Guidance         float64 `json:"guidance"`
	PromptUpsampling bool    `json:"prompt_upsampling"`
	Seed             *int64  `json:"seed,omitempty"`
	SafetyTolerance  int     `json:"safety_tolerance"`
	OutputFormat     string  `json:"output_format"`
}

// Build は検証済みの request を Family ごとのリクエストボディに変換します。
// 副作用はありません。Family に無いフィールドは null ではなく省略されます。
func Build(req domain.GenerationRequest, images EncodedImages) (*Payload, error) {
	var (
		body     any
		redacted any
	)

	seed := req.Seed
	if !req.HasSeed() {
		seed = nil
	}
	safety := 0
	if req.SafetyTolerance != nil {
		safety = *req.SafetyTolerance
	}
	format := string(req.OutputFormat)
	prompt := strings.TrimSpace(req.Prompt)

	switch req.Family {
	case domain.FamilyFluxText:
		b := fluxBody{
			Prompt:          prompt,
			Seed:            seed,
			SafetyTolerance: safety,
			OutputFormat:    format,
		}
		if params.UsesDimensions(req.Model) {
			ratio, err := params.ParseRatio(req.AspectRatio)
			if err != nil {
				return nil, err
			}
			b.Width, b.Height = params.ImageSize(req.MaxSize, ratio)
		} else {
			b.AspectRatio = req.AspectRatio
		}
		if params.SupportsRaw(req.Model) {
			b.Raw = boolPtr(req.Raw)
		}
		body, redacted = b, b

	case domain.FamilyKontextText, domain.FamilyKontextEdit:
		b := kontextBody{
			Prompt:           prompt,
			AspectRatio:      req.AspectRatio,
			PromptUpsampling: req.PromptUpsampling,
			Seed:             seed,
			SafetyTolerance:  safety,
			OutputFormat:     format,
		}
		if req.Family == domain.FamilyKontextEdit {
			if images.InputImage == "" {
				return nil, fmt.Errorf("input_image is required for %s", req.Family)
			}
			b.InputImage = images.InputImage
		}
		body = b
		if b.InputImage != "" {
			b.InputImage = redact(b.InputImage)
		}
		redacted = b

	case domain.FamilyFluxFill:
		if images.InputImage == "" || images.Mask == "" {
			return nil, fmt.Errorf("image and mask are required for %s", req.Family)
		}
		b := fillBody{
			Image:            images.InputImage,
			Mask:             images.Mask,
			Prompt:           prompt,
			Steps:            req.Steps,
			Guidance:         req.Guidance,
			PromptUpsampling: req.PromptUpsampling,
			Seed:             seed,
			SafetyTolerance:  safety,
			OutputFormat:     format,
		}
		body = b
		b.Image, b.Mask = redact(b.Image), redact(b.Mask)
		redacted = b

	default:
		return nil, fmt.Errorf("unknown family %q", req.Family)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}
	logged, err := json.Marshal(redacted)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}
	return &Payload{Model: req.Model, Body: raw, Redacted: string(logged)}, nil
}

func redact(encoded string) string {
	return fmt.Sprintf("<base64 image, %d chars>", len(encoded))
}

func boolPtr(v bool) *bool {
	return &v
}
