package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/nodes"
)

// jobSpec は 1 ジョブ分の入力です。batch の YAML と generate のフラグで共通です。
type jobSpec struct {
	Name             string  `yaml:"name"`
	Family           string  `yaml:"family"`
	Model            string  `yaml:"model"`
	Prompt           string  `yaml:"prompt"`
	AspectRatio      string  `yaml:"aspect_ratio"`
	MaxSize          int     `yaml:"max_size"`
	Seed             int64   `yaml:"seed"`
	SafetyTolerance  *int    `yaml:"safety_tolerance"`
	OutputFormat     string  `yaml:"output_format"`
	Raw              bool    `yaml:"raw"`
	PromptUpsampling bool    `yaml:"prompt_upsampling"`
	InputImage       string  `yaml:"input_image"`
	Mask             string  `yaml:"mask_image"`
	Steps            int     `yaml:"steps"`
	Guidance         float64 `yaml:"guidance"`
}

// node は jobSpec からノードを組み立てます。
func (j jobSpec) node() (*nodes.Node, error) {
	family, ok := domain.ParseFamily(j.Family)
	if !ok {
		return nil, fmt.Errorf("unknown family %q (expected one of %v)", j.Family, domain.Families())
	}
	n, err := nodes.New(j.Name, family)
	if err != nil {
		return nil, err
	}
	input, err := imageRef(j.InputImage)
	if err != nil {
		return nil, fmt.Errorf("input_image: %w", err)
	}
	mask, err := imageRef(j.Mask)
	if err != nil {
		return nil, fmt.Errorf("mask_image: %w", err)
	}
	n.Params = nodes.Params{
		Model:            j.Model,
		Prompt:           j.Prompt,
		AspectRatio:      j.AspectRatio,
		MaxSize:          j.MaxSize,
		Seed:             j.Seed,
		SafetyTolerance:  j.SafetyTolerance,
		OutputFormat:     domain.OutputFormat(j.OutputFormat),
		Raw:              j.Raw,
		PromptUpsampling: j.PromptUpsampling,
		InputImage:       input,
		Mask:             mask,
		Steps:            j.Steps,
		Guidance:         j.Guidance,
	}
	return n, nil
}

// summary は生成結果の出力形式です。
type summary struct {
	Name        string `json:"name"`
	Family      string `json:"family"`
	Model       string `json:"model,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	ArtifactURL string `json:"artifact_url,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ImageSize   string `json:"image_size,omitempty"`
	Seed        *int64 `json:"seed,omitempty"`
	Polls       int    `json:"polls,omitempty"`
	Elapsed     string `json:"elapsed,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
}

func newSummary(n *nodes.Node, out *nodes.Output, err error) summary {
	s := summary{Name: n.Name, Family: string(n.Family)}
	if out != nil {
		s.ImageSize = out.ImageSize
		if res := out.Result; res != nil {
			s.Model = res.Model
			s.RunID = res.RunID
			s.JobID = res.JobID
			s.ArtifactURL = res.ArtifactURL
			s.Filename = res.Filename
			s.Seed = res.UsedSeed
			s.Polls = res.Polls
			s.Elapsed = res.Elapsed.Round(time.Millisecond).String()
		}
	}
	if err != nil {
		s.Error = err.Error()
		s.ErrorKind = string(domain.KindOf(err))
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	var j jobSpec
	fs.StringVar(&j.Name, "name", "", "Node name used in logs")
	fs.StringVar(&j.Family, "family", "flux", "Family: flux, kontext, edit, fill")
	fs.StringVar(&j.Model, "model", "", "Model endpoint (default: family default)")
	fs.StringVar(&j.Prompt, "prompt", "", "Prompt text")
	fs.StringVar(&j.AspectRatio, "aspect-ratio", "", "Aspect ratio such as 16:9")
	fs.IntVar(&j.MaxSize, "max-size", 0, "Longer side in pixels for width/height models")
	fs.Int64Var(&j.Seed, "seed", 0, "Seed (0 or less for random)")
	safety := fs.Int("safety", -1, "Safety tolerance (negative for the family default)")
	fs.StringVar(&j.OutputFormat, "format", "", "Output format: jpeg or png")
	fs.BoolVar(&j.Raw, "raw", false, "Raw mode (ultra, pro-1.1, pro)")
	fs.BoolVar(&j.PromptUpsampling, "upsample", false, "Enable prompt upsampling")
	fs.StringVar(&j.InputImage, "input", "", "Input image: local path or URL")
	fs.StringVar(&j.Mask, "mask", "", "Mask image for fill: local path or URL")
	fs.IntVar(&j.Steps, "steps", 0, "Fill steps")
	fs.Float64Var(&j.Guidance, "guidance", 0, "Fill guidance")
	fs.Parse(args)

	if *safety >= 0 {
		j.SafetyTolerance = safety
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := j.node()
	if err != nil {
		return err
	}
	if problems := n.ValidateBeforeRun(a.secrets); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, p)
		}
		return fmt.Errorf("%d problem(s) found before run", len(problems))
	}

	out, err := n.Process(ctx, a.generator)
	if werr := writeJSON(os.Stdout, newSummary(n, out, err)); werr != nil {
		return werr
	}
	return err
}

func runOptions(args []string) error {
	fs := flag.NewFlagSet("options", flag.ExitOnError)
	familyName := fs.String("family", "", "Family (empty for all)")
	fs.Parse(args)

	families := domain.Families()
	if *familyName != "" {
		f, ok := domain.ParseFamily(*familyName)
		if !ok {
			return fmt.Errorf("unknown family %q", *familyName)
		}
		families = []domain.Family{f}
	}

	type entry struct {
		Family           string   `json:"family"`
		Models           []string `json:"models"`
		DefaultModel     string   `json:"default_model"`
		AspectRatios     []string `json:"aspect_ratios,omitempty"`
		SafetyTolerances []int    `json:"safety_tolerances"`
		SafetyDefault    int      `json:"safety_default"`
		OutputFormats    []string `json:"output_formats"`
	}
	var entries []entry
	for _, f := range families {
		n, err := nodes.New("", f)
		if err != nil {
			return err
		}
		o := n.Options()
		formats := make([]string, 0, len(o.OutputFormats))
		for _, of := range o.OutputFormats {
			formats = append(formats, string(of))
		}
		entries = append(entries, entry{
			Family:           string(f),
			Models:           o.Models,
			DefaultModel:     o.DefaultModel,
			AspectRatios:     o.AspectRatios,
			SafetyTolerances: o.SafetyTolerances,
			SafetyDefault:    o.SafetyDefault,
			OutputFormats:    formats,
		})
	}
	return writeJSON(os.Stdout, entries)
}
