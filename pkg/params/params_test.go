package params

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/shouni/bfl-image-kit/pkg/domain"
)

func intPtr(v int) *int { return &v }

func TestParseRatio(t *testing.T) {
	r, err := ParseRatio(" 16:9 ")
	require.NoError(t, err)
	assert.Equal(t, Ratio{W: 16, H: 9}, r)
	assert.Equal(t, "16:9", r.String())

	for _, bad := range []string{"", "16x9", "a:b", "0:1", "1:-2", "16:"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseRatio(bad)
			assert.Error(t, err)
		})
	}
}

func TestRatio_Within(t *testing.T) {
	fluxMin, fluxMax := Ratio{W: 9, H: 21}, Ratio{W: 21, H: 9}
	kontextMin, kontextMax := Ratio{W: 3, H: 7}, Ratio{W: 7, H: 3}

	assert.True(t, Ratio{W: 21, H: 9}.Within(fluxMin, fluxMax), "境界値は含む")
	assert.True(t, Ratio{W: 9, H: 21}.Within(fluxMin, fluxMax))
	assert.False(t, Ratio{W: 22, H: 9}.Within(fluxMin, fluxMax))
	assert.False(t, Ratio{W: 9, H: 22}.Within(fluxMin, fluxMax))

	// 3:7 と 9:21 は同じ値
	assert.True(t, Ratio{W: 9, H: 21}.Within(kontextMin, kontextMax))
	assert.False(t, Ratio{W: 21, H: 9}.Within(kontextMin, kontextMax), "21:9 は 7:3 より横長")
}

func TestImageSize(t *testing.T) {
	tests := []struct {
		max   int
		ratio Ratio
		w, h  int
	}{
		{1024, Ratio{1, 1}, 1024, 1024},
		{1024, Ratio{16, 9}, 1024, 576},
		{1024, Ratio{9, 16}, 576, 1024},
		{1440, Ratio{21, 9}, 1440, 608},
		{1024, Ratio{3, 2}, 1024, 672},
		{256, Ratio{9, 21}, 96, 256},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.max, tt.ratio), func(t *testing.T) {
			w, h := ImageSize(tt.max, tt.ratio)
			assert.Equal(t, tt.w, w)
			assert.Equal(t, tt.h, h)
		})
	}
}

func TestImageSize_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxSize := rapid.IntRange(MinMaxSize/SizeStep, MaxMaxSize/SizeStep).Draw(t, "steps") * SizeStep
		r := Ratio{W: rapid.IntRange(1, 21).Draw(t, "w"), H: rapid.IntRange(1, 21).Draw(t, "h")}

		w, h := ImageSize(maxSize, r)
		if w%SizeStep != 0 || h%SizeStep != 0 {
			t.Fatalf("size %dx%d is not a multiple of %d", w, h, SizeStep)
		}
		if w > maxSize || h > maxSize {
			t.Fatalf("size %dx%d exceeds max %d", w, h, maxSize)
		}
		if w != maxSize && h != maxSize {
			t.Fatalf("longer side of %dx%d should equal %d", w, h, maxSize)
		}
	})
}

func TestWithDefaults(t *testing.T) {
	t.Run("FLUX の既定値が埋まる", func(t *testing.T) {
		got := WithDefaults(domain.GenerationRequest{Family: domain.FamilyFluxText, Prompt: "cat"})
		assert.Equal(t, ModelFluxPro11, got.Model)
		assert.Equal(t, "1:1", got.AspectRatio)
		assert.Equal(t, 1024, got.MaxSize)
		require.NotNil(t, got.SafetyTolerance)
		assert.Equal(t, 2, *got.SafetyTolerance)
		assert.Equal(t, domain.FormatJPEG, got.OutputFormat)
	})

	t.Run("Kontext edit の safety 既定値は 6", func(t *testing.T) {
		got := WithDefaults(domain.GenerationRequest{Family: domain.FamilyKontextEdit})
		assert.Equal(t, ModelKontextPro, got.Model)
		assert.Equal(t, 6, *got.SafetyTolerance)
		assert.Zero(t, got.MaxSize)
	})

	t.Run("Fill は aspect ratio を持たず steps/guidance が埋まる", func(t *testing.T) {
		got := WithDefaults(domain.GenerationRequest{Family: domain.FamilyFluxFill})
		assert.Empty(t, got.AspectRatio)
		assert.Equal(t, 50, got.Steps)
		assert.Equal(t, 30.0, got.Guidance)
	})

	t.Run("指定済みの値は上書きしない", func(t *testing.T) {
		in := domain.GenerationRequest{Family: domain.FamilyKontextText, Model: ModelKontextMax, AspectRatio: "16:9", SafetyTolerance: intPtr(0)}
		got := WithDefaults(in)
		assert.Equal(t, ModelKontextMax, got.Model)
		assert.Equal(t, "16:9", got.AspectRatio)
		assert.Equal(t, 0, *got.SafetyTolerance)
		assert.Same(t, in.SafetyTolerance, got.SafetyTolerance)
	})
}

func TestValidate_Accepts(t *testing.T) {
	img := &domain.ImageRef{Data: []byte{0xff, 0xd8}}
	reqs := []domain.GenerationRequest{
		{Family: domain.FamilyFluxText, Prompt: "a cat", AspectRatio: "21:9"},
		{Family: domain.FamilyFluxText, Model: ModelFluxDev, Prompt: "a cat", MaxSize: 1440},
		{Family: domain.FamilyKontextText, Prompt: "a cat", AspectRatio: "3:7", SafetyTolerance: intPtr(0)},
		{Family: domain.FamilyKontextEdit, Prompt: "make it blue", InputImage: img, SafetyTolerance: intPtr(6)},
		{Family: domain.FamilyFluxFill, InputImage: img, Mask: img, Steps: 15, Guidance: 1.5},
	}
	for _, req := range reqs {
		t.Run(string(req.Family), func(t *testing.T) {
			assert.NoError(t, Validate(WithDefaults(req)))
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	img := &domain.ImageRef{URL: "https://example.com/a.png"}
	tests := []struct {
		name string
		req  domain.GenerationRequest
		want string
	}{
		{"未知の family", domain.GenerationRequest{Family: "dalle"}, "unknown family"},
		{"空の prompt", domain.GenerationRequest{Family: domain.FamilyFluxText, Prompt: "   "}, "prompt is required"},
		{"範囲外の比率", domain.GenerationRequest{Family: domain.FamilyKontextText, Prompt: "x", AspectRatio: "21:9"}, "outside 7:3..3:7"},
		{"壊れた比率", domain.GenerationRequest{Family: domain.FamilyFluxText, Prompt: "x", AspectRatio: "wide"}, "invalid aspect ratio"},
		{"桁あふれする FLUX の比率", domain.GenerationRequest{Family: domain.FamilyFluxText, Model: ModelFluxProUltra, Prompt: "x", AspectRatio: "2049638230412172402:1"}, "must not exceed 100"},
		{"桁あふれする Kontext の比率", domain.GenerationRequest{Family: domain.FamilyKontextText, Prompt: "x", AspectRatio: "6148914691236517206:1"}, "must not exceed 100"},
		{"上限を超える項", domain.GenerationRequest{Family: domain.FamilyFluxText, Prompt: "x", AspectRatio: "210:90"}, "must not exceed 100"},
		{"safety 上限超え", domain.GenerationRequest{Family: domain.FamilyKontextText, Prompt: "x", SafetyTolerance: intPtr(3)}, "safety_tolerance 3 is outside 0-2"},
		{"FLUX の safety 下限", domain.GenerationRequest{Family: domain.FamilyFluxText, Prompt: "x", SafetyTolerance: intPtr(0)}, "outside 1-6"},
		{"許可されないモデル", domain.GenerationRequest{Family: domain.FamilyKontextText, Model: ModelFluxDev, Prompt: "x"}, "not allowed"},
		{"max_size が 32 の倍数でない", domain.GenerationRequest{Family: domain.FamilyFluxText, Prompt: "x", MaxSize: 1000}, "max_size 1000"},
		{"入力画像なしの edit", domain.GenerationRequest{Family: domain.FamilyKontextEdit, Prompt: "x"}, "input_image is required"},
		{"mask なしの fill", domain.GenerationRequest{Family: domain.FamilyFluxFill, InputImage: img}, "mask_image is required"},
		{"fill に比率", domain.GenerationRequest{Family: domain.FamilyFluxFill, InputImage: img, Mask: img, AspectRatio: "1:1"}, "not supported"},
		{"fill の steps 範囲外", domain.GenerationRequest{Family: domain.FamilyFluxFill, InputImage: img, Mask: img, Steps: 51}, "steps 51"},
		{"fill の guidance 範囲外", domain.GenerationRequest{Family: domain.FamilyFluxFill, InputImage: img, Mask: img, Guidance: 1}, "guidance 1"},
		{"出力形式", domain.GenerationRequest{Family: domain.FamilyFluxText, Prompt: "x", OutputFormat: "webp"}, "output_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(WithDefaults(tt.req))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	req := domain.GenerationRequest{
		Family:          domain.FamilyKontextEdit,
		Model:           ModelKontextPro,
		AspectRatio:     "10:1",
		SafetyTolerance: intPtr(9),
		OutputFormat:    domain.FormatPNG,
	}
	err := Validate(req)
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"prompt is required", "aspect_ratio 10:1", "safety_tolerance 9", "input_image is required"} {
		assert.Contains(t, msg, want)
	}
	assert.Equal(t, 3, strings.Count(msg, "\n"), "1 件ずつ改行で並ぶ")

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.FamilyKontextEdit, de.Family)
}

func TestChoices(t *testing.T) {
	opts, ok := Choices(domain.FamilyKontextText)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 2}, opts.SafetyTolerances)
	assert.Equal(t, ModelKontextPro, opts.DefaultModel)
	assert.Contains(t, opts.AspectRatios, "7:3")

	opts, ok = Choices(domain.FamilyFluxText)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, opts.SafetyTolerances)
	assert.Len(t, opts.Models, 4)

	_, ok = Choices("nope")
	assert.False(t, ok)
}

func TestModelCapabilities(t *testing.T) {
	assert.False(t, UsesDimensions(ModelFluxProUltra))
	assert.True(t, UsesDimensions(ModelFluxDev))
	assert.False(t, SupportsRaw(ModelFluxDev))
	assert.True(t, SupportsRaw(ModelFluxProUltra))
}
