package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/status"
)

// --- Mocks ---

type mockGenerator struct {
	mu       sync.Mutex
	prompts  []string
	inflight atomic.Int32
	peak     atomic.Int32
	failOn   string
	delay    time.Duration
}

func (m *mockGenerator) Generate(ctx context.Context, req domain.GenerationRequest, reporter status.Reporter) (*domain.GenerationResult, error) {
	cur := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		p := m.peak.Load()
		if cur <= p || m.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(m.delay)

	m.mu.Lock()
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()

	if req.Prompt == m.failOn {
		return nil, domain.NewError(domain.KindProviderFailure, "poll", "generation failed").WithReason("Derivative Works")
	}
	return &domain.GenerationResult{
		Family:      req.Family,
		Model:       req.Model,
		JobID:       fmt.Sprintf("job-%s", req.Prompt),
		ArtifactURL: "https://static.example.com/" + req.Prompt + ".jpeg",
	}, nil
}
