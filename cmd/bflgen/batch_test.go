package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/shouni/bfl-image-kit/pkg/nodes"
)

func TestParseJobs(t *testing.T) {
	t.Run("名前の無いジョブに名前を付ける", func(t *testing.T) {
		jobs, err := parseJobs([]byte(`
jobs:
  - family: flux
    prompt: a red fox
    aspect_ratio: "16:9"
    safety_tolerance: 3
  - name: edit-1
    family: edit
    prompt: make it night
    input_image: https://example.com/in.png
`))
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.True(t, strings.HasPrefix(jobs[0].Name, "job-"))
		assert.Equal(t, "16:9", jobs[0].AspectRatio)
		require.NotNil(t, jobs[0].SafetyTolerance)
		assert.Equal(t, 3, *jobs[0].SafetyTolerance)
		assert.Equal(t, "edit-1", jobs[1].Name)
	})

	t.Run("ジョブが無ければエラー", func(t *testing.T) {
		_, err := parseJobs([]byte("jobs: []\n"))
		assert.Error(t, err)
	})

	t.Run("YAML でなければエラー", func(t *testing.T) {
		_, err := parseJobs([]byte("jobs: [unterminated"))
		assert.Error(t, err)
	})
}

func TestJobSpec_Node(t *testing.T) {
	n, err := jobSpec{Name: "e", Family: "edit", Prompt: "p", InputImage: "https://example.com/in.png", Seed: 5}.node()
	require.NoError(t, err)
	assert.Equal(t, "kontext_image_edit", string(n.Family))
	assert.Equal(t, "https://example.com/in.png", n.Params.InputImage.URL)

	_, err = jobSpec{Family: "sdxl"}.node()
	assert.Error(t, err)

	_, err = jobSpec{Family: "edit", InputImage: "/does/not/exist.png"}.node()
	assert.Error(t, err)
}

func TestRunJobs(t *testing.T) {
	var jobs []*nodes.Node
	for _, p := range []string{"a", "b", "c", "d", "e"} {
		n, err := jobSpec{Name: "n-" + p, Family: "flux", Prompt: p}.node()
		require.NoError(t, err)
		jobs = append(jobs, n)
	}
	gen := &mockGenerator{failOn: "c", delay: 10 * time.Millisecond}

	results := runJobs(context.Background(), jobs, gen, 2, rate.NewLimiter(rate.Inf, 1))

	require.Len(t, results, 5)
	assert.LessOrEqual(t, gen.peak.Load(), int32(2))
	assert.Len(t, gen.prompts, 5)
	for i, r := range results {
		assert.Equal(t, jobs[i].Name, r.Name)
	}
	assert.Equal(t, "job-a", results[0].JobID)
	assert.Equal(t, "provider_failure", results[2].ErrorKind)
	assert.Contains(t, results[2].Error, "Derivative Works")
	assert.Empty(t, results[4].Error)
}

func TestRunJobs_Cancelled(t *testing.T) {
	n, err := jobSpec{Name: "n", Family: "flux", Prompt: "a"}.node()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := runJobs(ctx, []*nodes.Node{n}, &mockGenerator{}, 1, rate.NewLimiter(1, 1))
	assert.NotEmpty(t, results[0].Error)
}
