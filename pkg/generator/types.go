package generator

import (
	"time"

	"github.com/shouni/bfl-image-kit/pkg/domain"
)

const (
	// APIKeyService と APIKeyName は SecretStore から API キーを引くときの名前です。
	APIKeyService = "BlackForest Labs"
	APIKeyName    = "BFL_API_KEY"

	DefaultBaseURL = "https://api.bfl.ai"

	maxResponseBytes = 1 << 20
)

// PollOutcome はポーリングループが終端状態に達したときの結果です。
type PollOutcome struct {
	Handle  domain.JobHandle
	Status  domain.JobStatus
	Polls   int
	Elapsed time.Duration
}
