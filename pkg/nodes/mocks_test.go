package nodes

import (
	"context"

	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/status"
)

// --- Mocks ---

type mockGenerator struct {
	lastReq domain.GenerationRequest
	calls   int
	err     error
}

func (m *mockGenerator) Generate(ctx context.Context, req domain.GenerationRequest, reporter status.Reporter) (*domain.GenerationResult, error) {
	m.calls++
	m.lastReq = req
	status.Reportf(ctx, reporter, "Creating generation request...")
	if m.err != nil {
		status.Reportf(ctx, reporter, "Generation failed: %s", m.err)
		return nil, m.err
	}
	status.Reportf(ctx, reporter, "Generation completed successfully")
	return &domain.GenerationResult{
		Family:      req.Family,
		Model:       req.Model,
		JobID:       "job-1",
		ArtifactURL: "https://static.example.com/bfl.jpeg",
	}, nil
}

type mockSecrets map[string]string

func (m mockSecrets) Lookup(service, key string) (string, bool) {
	v, ok := m[service+"/"+key]
	return v, ok
}

func withKey() mockSecrets {
	return mockSecrets{"BlackForest Labs/BFL_API_KEY": "k"}
}
