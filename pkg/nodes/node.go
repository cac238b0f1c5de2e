// Package nodes はワークフローホストから見た BFL ノードです。
// ノードのパラメータは Family ごとの選択肢を持つ素の構造体として扱います。
package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/generator"
	"github.com/shouni/bfl-image-kit/pkg/params"
	"github.com/shouni/bfl-image-kit/pkg/status"
)

// 接続可能なパラメータ名
const (
	ParamPrompt     = "prompt"
	ParamInputImage = "input_image"
	ParamMask       = "mask_image"
)

// Params はノードの入力パラメータです。ゼロ値の項目は Family の既定値になります。
type Params struct {
	Model            string
	Prompt           string
	AspectRatio      string
	MaxSize          int
	Seed             int64
	SafetyTolerance  *int
	OutputFormat     domain.OutputFormat
	Raw              bool
	PromptUpsampling bool
	InputImage       *domain.ImageRef
	Mask             *domain.ImageRef
	Steps            int
	Guidance         float64
}

// Output はノードの出力です。
type Output struct {
	Result   *domain.GenerationResult
	ImageURL string
	// ImageSize は width/height を送る FLUX モデルでのみ "WxH" になります。
	ImageSize string
	Status    string
}

// Node は 1 つの BFL ノードです。並行に Process を呼ばないでください。
type Node struct {
	Name      string
	Family    domain.Family
	Params    Params
	Status    *status.Buffer
	connected map[string]bool
}

// New は family のノードを作成します。
func New(name string, family domain.Family) (*Node, error) {
	if _, ok := params.For(family); !ok {
		return nil, fmt.Errorf("unknown family %q", family)
	}
	if strings.TrimSpace(name) == "" {
		name = string(family)
	}
	return &Node{
		Name:      name,
		Family:    family,
		Status:    status.NewBuffer(),
		connected: make(map[string]bool),
	}, nil
}

// Options returns the enumerated choices of the node's family.
func (n *Node) Options() params.Options {
	o, _ := params.Choices(n.Family)
	return o
}

// Connect はパラメータに上流の出力が接続されたことを記録します。
// 接続済みのパラメータは実行前検証で空でも許容されます。
func (n *Node) Connect(param string) {
	n.connected[param] = true
}

// Disconnect removes the connection mark of param.
func (n *Node) Disconnect(param string) {
	delete(n.connected, param)
}

// IsConnected reports whether param has an incoming connection.
func (n *Node) IsConnected(param string) bool {
	return n.connected[param]
}

// Request はパラメータから既定値を補った GenerationRequest を作ります。
func (n *Node) Request() domain.GenerationRequest {
	p := n.Params
	req := domain.GenerationRequest{
		Family:           n.Family,
		Model:            p.Model,
		Prompt:           p.Prompt,
		AspectRatio:      p.AspectRatio,
		MaxSize:          p.MaxSize,
		SafetyTolerance:  p.SafetyTolerance,
		OutputFormat:     p.OutputFormat,
		Raw:              p.Raw,
		PromptUpsampling: p.PromptUpsampling,
		InputImage:       p.InputImage,
		Mask:             p.Mask,
		Steps:            p.Steps,
		Guidance:         p.Guidance,
	}
	if p.Seed > 0 {
		seed := p.Seed
		req.Seed = &seed
	}
	return params.WithDefaults(req)
}

// ValidateBeforeRun は実行前に見つかった問題をすべて返します。
// 接続済みのパラメータは値が届くものとして扱います。
func (n *Node) ValidateBeforeRun(secrets generator.SecretStore) []error {
	var problems []error
	b, _ := params.For(n.Family)
	req := n.Request()

	if b.RequiresPrompt && strings.TrimSpace(req.Prompt) == "" {
		if !n.IsConnected(ParamPrompt) {
			problems = append(problems, fmt.Errorf("%s: prompt is required and cannot be empty", n.Name))
		}
		req.Prompt = "connected"
	}
	if b.RequiresInputImage && req.InputImage.IsZero() {
		if !n.IsConnected(ParamInputImage) {
			problems = append(problems, fmt.Errorf("%s: input_image is required", n.Name))
		}
		req.InputImage = &domain.ImageRef{URL: "connected"}
	}
	if b.RequiresMask && req.Mask.IsZero() {
		if !n.IsConnected(ParamMask) {
			problems = append(problems, fmt.Errorf("%s: mask_image is required", n.Name))
		}
		req.Mask = &domain.ImageRef{URL: "connected"}
	}

	if secrets == nil {
		problems = append(problems, fmt.Errorf("%s: %s is not set", n.Name, generator.APIKeyName))
	} else if key, ok := secrets.Lookup(generator.APIKeyService, generator.APIKeyName); !ok || strings.TrimSpace(key) == "" {
		problems = append(problems, fmt.Errorf("%s: %s is not set; get your API key from https://docs.bfl.ml/", n.Name, generator.APIKeyName))
	}

	if err := params.Validate(req); err != nil {
		for _, p := range splitJoined(err) {
			problems = append(problems, fmt.Errorf("%s: %w", n.Name, p))
		}
	}
	return problems
}

// splitJoined は ValidationError の中の errors.Join を個々の問題に分解します。
func splitJoined(err error) []error {
	var e *domain.Error
	if errors.As(err, &e) && e.Cause != nil {
		if joined, ok := e.Cause.(interface{ Unwrap() []error }); ok {
			return joined.Unwrap()
		}
		return []error{e.Cause}
	}
	return []error{err}
}

// Process はステータスを消去してから 1 回生成します。失敗時も Output.Status に経過が残ります。
func (n *Node) Process(ctx context.Context, gen generator.ImageGenerator) (*Output, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	n.Status.Clear()
	req := n.Request()
	reporter := status.Multi(n.Status, status.NewSlogReporter("node", n.Name))

	out := &Output{ImageSize: imageSize(req)}
	res, err := gen.Generate(ctx, req, reporter)
	out.Status = n.Status.String()
	if err != nil {
		return out, err
	}
	out.Result = res
	out.ImageURL = res.ArtifactURL
	return out, nil
}

func imageSize(req domain.GenerationRequest) string {
	if req.Family != domain.FamilyFluxText || !params.UsesDimensions(req.Model) {
		return ""
	}
	r, err := params.ParseRatio(req.AspectRatio)
	if err != nil {
		return ""
	}
	return params.FormatSize(params.ImageSize(req.MaxSize, r))
}
