package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shouni/bfl-image-kit/pkg/adapters"
	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/metrics"
	"github.com/shouni/bfl-image-kit/pkg/params"
	"github.com/shouni/bfl-image-kit/pkg/status"
)

// Dependencies は Generator が使う協調オブジェクトです。いずれも並行利用に安全であることを前提とします。
type Dependencies struct {
	// Doer は投入とポーリングに使います。
	Doer Doer
	// HTTPClient は結果画像のダウンロードに使います。
	HTTPClient HTTPClient
	Encoder    ImageEncoder
	Store      ArtifactStore
	Secrets    SecretStore
	// Submitter を差し替える場合に指定します。nil なら Doer から作ります。
	Submitter JobSubmitter
	// Poller を指定すると Family ごとのタイムアウトより優先して使います。nil なら呼び出しごとに作ります。
	Poller  JobPoller
	Metrics *metrics.Collector
}

// Options は Generator の不変設定です。
type Options struct {
	BaseURL string
	// Poll.Timeout が 0 なら Family ごとの既定値を使います。Family と Metrics は無視されます。
	Poll  PollOptions
	Retry RetryPolicy
}

// Generator は 1 回の呼び出しごとに 検証 → 投入 → ポーリング → 保存 を行います。
// 呼び出し間で可変状態を共有しないため、並行に Generate を呼べます。
type Generator struct {
	doer         Doer
	submitter    JobSubmitter
	poller       JobPoller
	encoder      ImageEncoder
	materializer *Materializer
	secrets      SecretStore
	metrics      *metrics.Collector
	opts         Options
}

// NewGenerator は依存関係を注入して Generator を初期化します。
func NewGenerator(deps Dependencies, opts Options) (*Generator, error) {
	if deps.Doer == nil {
		return nil, fmt.Errorf("doer is required")
	}
	if deps.Secrets == nil {
		return nil, fmt.Errorf("secrets is required")
	}
	if deps.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	materializer, err := NewMaterializer(deps.HTTPClient, deps.Store)
	if err != nil {
		return nil, err
	}
	submitter := deps.Submitter
	if submitter == nil {
		s, err := NewSubmitter(opts.BaseURL, deps.Doer)
		if err != nil {
			return nil, err
		}
		submitter = s
	}
	opts.Retry = opts.Retry.withDefaults()

	return &Generator{
		doer:         deps.Doer,
		submitter:    submitter,
		poller:       deps.Poller,
		encoder:      deps.Encoder,
		materializer: materializer,
		secrets:      deps.Secrets,
		metrics:      deps.Metrics,
		opts:         opts,
	}, nil
}

// Generate は 1 ジョブを実行します。同じ request を 2 回渡せば 2 つの独立したジョブになります。
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest, reporter status.Reporter) (*domain.GenerationResult, error) {
	runID := uuid.NewString()
	req = params.WithDefaults(req)
	start := time.Now()

	res, err := g.run(ctx, runID, req, reporter)
	if err != nil {
		err = domain.Annotate(err, req.Family, req.Model)
		g.metrics.RecordJob(string(req.Family), req.Model, outcomeLabel(err), time.Since(start))
		status.Reportf(ctx, reporter, "Generation failed: %s", failureText(err))
		slog.ErrorContext(ctx, "画像生成に失敗しました", "run_id", runID, "family", req.Family, "model", req.Model, "error", err)
		return nil, err
	}

	res.RunID = runID
	g.metrics.RecordJob(string(req.Family), req.Model, "success", time.Since(start))
	status.Reportf(ctx, reporter, "Generation completed successfully")
	slog.InfoContext(ctx, "画像生成が完了しました", "run_id", runID, "family", req.Family, "model", req.Model,
		"job_id", res.JobID, "polls", res.Polls, "artifact", res.ArtifactURL)
	return res, nil
}

func (g *Generator) run(ctx context.Context, runID string, req domain.GenerationRequest, reporter status.Reporter) (*domain.GenerationResult, error) {
	// 入力が不正ならネットワークには一切触れない
	if err := params.Validate(req); err != nil {
		return nil, err
	}
	bounds, _ := params.For(req.Family)

	apiKey, ok := g.secrets.Lookup(APIKeyService, APIKeyName)
	if !ok || strings.TrimSpace(apiKey) == "" {
		return nil, domain.NewError(domain.KindAuth, "credentials",
			APIKeyName+" is not set; get your API key from https://docs.bfl.ml/")
	}

	images, err := g.encodeImages(ctx, req, bounds, reporter)
	if err != nil {
		return nil, err
	}
	payload, err := adapters.Build(req, images)
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "build", "failed to build request").WithCause(err)
	}

	done := g.metrics.JobStarted(string(req.Family))
	defer done()

	status.Reportf(ctx, reporter, "Creating generation request...")
	slog.InfoContext(ctx, "BFL に生成リクエストを送信します", "run_id", runID, "family", req.Family, "model", req.Model)
	handle, attempts, err := submitWithRetry(ctx, g.submitter, apiKey, payload, g.opts.Retry, func(err error, wait time.Duration) {
		kind := domain.KindOf(err)
		g.metrics.RecordSubmitRetry(string(req.Family), string(kind))
		status.Reportf(ctx, reporter, "Submission failed (%s), retrying in %s...", kind, wait.Round(time.Millisecond))
		slog.WarnContext(ctx, "投入に失敗しました。再試行します", "run_id", runID, "kind", kind, "wait", wait, "error", err)
	})
	if err != nil {
		return nil, err
	}
	status.Reportf(ctx, reporter, "Request created with ID: %s", handle.ID)
	slog.InfoContext(ctx, "ジョブを投入しました", "run_id", runID, "job_id", handle.ID, "attempts", attempts)

	poller, err := g.pollerFor(req.Family, bounds)
	if err != nil {
		return nil, err
	}

	status.Reportf(ctx, reporter, "Waiting for generation to complete...")
	outcome, err := poller.Poll(ctx, apiKey, handle, reporter)
	if err != nil {
		return nil, err
	}

	status.Reportf(ctx, reporter, "Downloading generated image...")
	return g.materializer.Materialize(ctx, req, outcome)
}

func (g *Generator) pollerFor(family domain.Family, bounds params.Bounds) (JobPoller, error) {
	if g.poller != nil {
		return g.poller, nil
	}
	pollOpts := g.opts.Poll
	if pollOpts.Timeout <= 0 {
		pollOpts.Timeout = bounds.PollTimeout
	}
	pollOpts.Family = family
	pollOpts.Metrics = g.metrics
	return NewPoller(g.doer, pollOpts)
}

func (g *Generator) encodeImages(ctx context.Context, req domain.GenerationRequest, bounds params.Bounds, reporter status.Reporter) (adapters.EncodedImages, error) {
	var images adapters.EncodedImages
	if bounds.RequiresInputImage {
		status.Reportf(ctx, reporter, "Converting input image to base64...")
		encoded, err := g.encoder.Encode(ctx, req.InputImage)
		if err != nil {
			return images, err
		}
		images.InputImage = encoded
	}
	if bounds.RequiresMask {
		status.Reportf(ctx, reporter, "Converting mask image to base64...")
		encoded, err := g.encoder.Encode(ctx, req.Mask)
		if err != nil {
			return images, err
		}
		images.Mask = encoded
	}
	return images, nil
}

func outcomeLabel(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

// failureText はプロバイダーの理由があればそれを、無ければエラー全文を返します。
func failureText(err error) string {
	var e *domain.Error
	if errors.As(err, &e) && e.Reason != "" && e.Kind == domain.KindProviderFailure {
		return e.Reason
	}
	return err.Error()
}
