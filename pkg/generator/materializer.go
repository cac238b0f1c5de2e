package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/imgutil"
	"github.com/shouni/bfl-image-kit/pkg/utils"
)

// Materializer は Ready の結果から画像バイト列を取り出し、保存先に渡します。
type Materializer struct {
	httpClient  HTTPClient
	store       ArtifactStore
	jpegQuality int
	now         func() time.Time
}

// NewMaterializer は依存関係を注入して Materializer を初期化します。
func NewMaterializer(httpClient HTTPClient, store ArtifactStore) (*Materializer, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("httpClient is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Materializer{
		httpClient:  httpClient,
		store:       store,
		jpegQuality: imgutil.DefaultJPEGQuality,
		now:         time.Now,
	}, nil
}

// Materialize は結果画像を取得して output_format に揃え、保存先に保存します。
// 結果 URL は約 10 分で失効するため、Ready を受け取った直後に呼びます。
func (m *Materializer) Materialize(ctx context.Context, req domain.GenerationRequest, outcome *PollOutcome) (*domain.GenerationResult, error) {
	if outcome == nil || outcome.Status.Kind != domain.StatusReady {
		return nil, domain.NewError(domain.KindProviderFailure, "materialize", "job is not ready")
	}
	st := outcome.Status

	data := st.InlineData
	if data == nil {
		fetched, err := m.httpClient.FetchBytes(ctx, st.ResultURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("materialize: %w", ctx.Err())
			}
			return nil, domain.NewError(domain.KindTransport, "materialize", "failed to download generated image").WithCause(err)
		}
		data = fetched
	}
	if !imgutil.IsImage(data) {
		return nil, domain.NewError(domain.KindProviderFailure, "materialize",
			fmt.Sprintf("result is not an image (detected %s)", imgutil.Sniff(data)))
	}

	format := req.OutputFormat
	if format == "" {
		format = domain.FormatJPEG
	}
	converted, err := imgutil.Transcode(data, format, m.jpegQuality)
	if err != nil {
		// 変換できない形式はそのまま保存し、実際の形式を報告する
		slog.WarnContext(ctx, "出力形式への変換に失敗しました。元の画像を保存します", "format", format, "error", err)
		converted = data
		if actual, ok := imgutil.FormatOf(data); ok {
			format = actual
		}
	}

	filename := utils.ArtifactName(req.Model, st.Seed, req.Seed, format, m.now())
	artifactURL, err := m.store.SaveStaticFile(ctx, converted, filename)
	if err != nil {
		return nil, fmt.Errorf("生成画像の保存に失敗しました: %w", err)
	}

	return &domain.GenerationResult{
		Family:      req.Family,
		Model:       req.Model,
		JobID:       outcome.Handle.ID,
		Data:        converted,
		MimeType:    imgutil.Sniff(converted),
		Format:      format,
		SourceURL:   st.ResultURL,
		ArtifactURL: artifactURL,
		Filename:    filename,
		UsedSeed:    utils.UsedSeed(st.Seed, req.Seed),
		Polls:       outcome.Polls,
		Elapsed:     outcome.Elapsed,
	}, nil
}
