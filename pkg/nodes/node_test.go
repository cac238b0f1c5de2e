package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/bfl-image-kit/pkg/domain"
)

func intPtr(v int) *int { return &v }

func joinErrors(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

func TestNew(t *testing.T) {
	_, err := New("x", domain.Family("sdxl"))
	assert.Error(t, err)

	n, err := New("", domain.FamilyKontextEdit)
	require.NoError(t, err)
	assert.Equal(t, "kontext_image_edit", n.Name)
	assert.Equal(t, "flux-kontext-pro", n.Options().DefaultModel)
}

func TestNode_Request(t *testing.T) {
	n, err := New("flux", domain.FamilyFluxText)
	require.NoError(t, err)
	n.Params.Prompt = "fox"
	n.Params.Seed = -1

	req := n.Request()
	assert.Equal(t, "flux-pro-1.1", req.Model)
	assert.Equal(t, "1:1", req.AspectRatio)
	assert.Nil(t, req.Seed)
	require.NotNil(t, req.SafetyTolerance)
	assert.Equal(t, 2, *req.SafetyTolerance)

	n.Params.Seed = 7
	require.NotNil(t, n.Request().Seed)
	assert.Equal(t, int64(7), *n.Request().Seed)
}

func TestNode_ValidateBeforeRun(t *testing.T) {
	t.Run("問題をすべて集める", func(t *testing.T) {
		n, _ := New("edit", domain.FamilyKontextEdit)
		n.Params.SafetyTolerance = intPtr(9)
		n.Params.AspectRatio = "1:5"

		problems := n.ValidateBeforeRun(mockSecrets{})
		text := joinErrors(problems)
		assert.Len(t, problems, 5, text)
		assert.Contains(t, text, "edit: prompt is required")
		assert.Contains(t, text, "edit: input_image is required")
		assert.Contains(t, text, "BFL_API_KEY is not set")
		assert.Contains(t, text, "safety_tolerance 9 is outside 0-6")
		assert.Contains(t, text, "aspect_ratio 1:5 is outside")
	})

	t.Run("接続済みのパラメータは空でもよい", func(t *testing.T) {
		n, _ := New("edit", domain.FamilyKontextEdit)
		n.Connect(ParamPrompt)
		n.Connect(ParamInputImage)

		assert.Empty(t, n.ValidateBeforeRun(withKey()))

		n.Disconnect(ParamInputImage)
		problems := n.ValidateBeforeRun(withKey())
		require.Len(t, problems, 1)
		assert.Contains(t, problems[0].Error(), "input_image is required")
	})

	t.Run("Fill はマスクを要求する", func(t *testing.T) {
		n, _ := New("fill", domain.FamilyFluxFill)
		n.Params.InputImage = &domain.ImageRef{URL: "https://example.com/in.png"}

		problems := n.ValidateBeforeRun(withKey())
		require.Len(t, problems, 1)
		assert.Contains(t, problems[0].Error(), "mask_image is required")
	})

	t.Run("正しい設定なら問題なし", func(t *testing.T) {
		n, _ := New("flux", domain.FamilyFluxText)
		n.Params.Prompt = "fox"
		n.Params.AspectRatio = "16:9"
		assert.Empty(t, n.ValidateBeforeRun(withKey()))
	})
}

func TestNode_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("成功すると画像 URL とサイズを出力する", func(t *testing.T) {
		n, _ := New("flux", domain.FamilyFluxText)
		n.Params.Prompt = "fox"
		n.Params.AspectRatio = "16:9"
		n.Status.Report(ctx, "stale line from previous run")
		gen := &mockGenerator{}

		out, err := n.Process(ctx, gen)
		require.NoError(t, err)
		assert.Equal(t, "https://static.example.com/bfl.jpeg", out.ImageURL)
		assert.Equal(t, "1024x576", out.ImageSize)
		assert.NotContains(t, out.Status, "stale line")
		assert.Contains(t, out.Status, "Generation completed successfully")
		assert.Equal(t, "flux-pro-1.1", gen.lastReq.Model)
	})

	t.Run("ultra は image_size を出さない", func(t *testing.T) {
		n, _ := New("flux", domain.FamilyFluxText)
		n.Params.Prompt = "fox"
		n.Params.Model = "flux-pro-1.1-ultra"

		out, err := n.Process(ctx, &mockGenerator{})
		require.NoError(t, err)
		assert.Empty(t, out.ImageSize)
	})

	t.Run("失敗してもステータスを返す", func(t *testing.T) {
		n, _ := New("kontext", domain.FamilyKontextText)
		n.Params.Prompt = "fox"
		gen := &mockGenerator{err: domain.NewError(domain.KindProviderFailure, "poll", "generation failed")}

		out, err := n.Process(ctx, gen)
		assert.True(t, errors.Is(err, domain.ErrProviderFailure))
		require.NotNil(t, out)
		assert.Contains(t, out.Status, "Generation failed")
		assert.Nil(t, out.Result)
	})

	t.Run("generator が無ければエラー", func(t *testing.T) {
		n, _ := New("flux", domain.FamilyFluxText)
		_, err := n.Process(ctx, nil)
		assert.Error(t, err)
	})
}
