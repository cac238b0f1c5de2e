package generator

import (
	"context"
	"net/http"

	"github.com/shouni/bfl-image-kit/pkg/adapters"
	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/status"
)

// Doer は投入とポーリングに使う HTTP クライアントです。*http.Client が満たします。
// ステータスコードで分類するため、httpkit ではなく素の応答を受け取ります。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient は、URLからデータを取得するためのインターフェースです。
type HTTPClient interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// ArtifactStore は生成画像を保存し、取得可能な URL を返すホスト側の保存先です。
type ArtifactStore interface {
	SaveStaticFile(ctx context.Context, data []byte, filename string) (string, error)
}

// SecretStore は (service, key) から秘密値を引くホスト側の設定です。
type SecretStore interface {
	Lookup(service, key string) (string, bool)
}

// ImageEncoder は入力画像の参照を base64 文字列に変換します。
type ImageEncoder interface {
	Encode(ctx context.Context, ref *domain.ImageRef) (string, error)
}

// JobSubmitter は 1 回だけ投入します。再試行は呼び出し側の責務です。
type JobSubmitter interface {
	Submit(ctx context.Context, apiKey string, payload *adapters.Payload) (domain.JobHandle, error)
}

// JobPoller は 1 つの JobHandle を終端状態までポーリングします。
type JobPoller interface {
	Poll(ctx context.Context, apiKey string, handle domain.JobHandle, reporter status.Reporter) (*PollOutcome, error)
}

// ImageGenerator はノード層が利用する統合窓口です。
type ImageGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest, reporter status.Reporter) (*domain.GenerationResult, error)
}
