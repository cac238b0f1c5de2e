package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/metrics"
	"github.com/shouni/bfl-image-kit/pkg/status"
)

const (
	DefaultPollInterval         = 500 * time.Millisecond
	DefaultMaxTransientFailures = 10
	DefaultPendingWarnAfter     = 60
)

// PollOptions はポーリングループの設定です。
type PollOptions struct {
	// Interval はポーリング間隔です。指数バックオフはしません。
	Interval time.Duration
	// Timeout はポーリング全体の wall-clock 予算です。
	Timeout time.Duration
	// MaxTransientFailures 回連続で一時的な失敗が続くと TimedOut にします。429 は数えません。
	MaxTransientFailures int
	// PendingWarnAfter 回連続で Pending が続いたら 1 度だけ警告を出します。
	PendingWarnAfter int

	Family  domain.Family
	Metrics *metrics.Collector
}

// Poller は 1 つの JobHandle を終端状態までポーリングします。状態は Poll の呼び出しごとに閉じています。
type Poller struct {
	doer Doer
	opts PollOptions
}

// NewPoller は既定値を補った Poller を生成します。
func NewPoller(doer Doer, opts PollOptions) (*Poller, error) {
	if doer == nil {
		return nil, fmt.Errorf("doer is required")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("poll timeout must be positive")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.MaxTransientFailures <= 0 {
		opts.MaxTransientFailures = DefaultMaxTransientFailures
	}
	if opts.PendingWarnAfter <= 0 {
		opts.PendingWarnAfter = DefaultPendingWarnAfter
	}
	return &Poller{doer: doer, opts: opts}, nil
}

// pollState は 1 回の Poll 呼び出しに閉じた可変状態です。
type pollState struct {
	start     time.Time
	polls     int
	transient int
	pending   int
	warned    bool
	lastErr   error
}

// Poll は Ready/Failed/TimedOut のいずれかに達するまでポーリングします。
// 最初のポーリングは即座に行い、以降は Interval ごとに行います。
// ctx がキャンセルされると次のリクエストを出さずに戻ります。
func (p *Poller) Poll(ctx context.Context, apiKey string, handle domain.JobHandle, reporter status.Reporter) (*PollOutcome, error) {
	st := &pollState{start: time.Now()}
	deadlineAt := st.start.Add(p.opts.Timeout)
	deadline := time.NewTimer(p.opts.Timeout)
	defer deadline.Stop()

	status.Reportf(ctx, reporter, "Polling URL: %s", handle.PollingURL)

	var wait time.Duration
	for {
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, p.cancelled(ctx, st)
			case <-deadline.C:
				t.Stop()
				return nil, p.timedOut(st, nil)
			case <-t.C:
			}
		}
		wait = p.opts.Interval

		if ctx.Err() != nil {
			return nil, p.cancelled(ctx, st)
		}
		if !time.Now().Before(deadlineAt) {
			return nil, p.timedOut(st, nil)
		}

		st.polls++
		js, err := p.fetch(ctx, deadlineAt, apiKey, handle.PollingURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.cancelled(ctx, st)
			}
			var de *domain.Error
			if errors.As(err, &de) && !isTransientPollError(de) {
				return nil, p.fail(st, de)
			}
			status.Reportf(ctx, reporter, "Attempt %d: request error: %v", st.polls, err)
			slog.WarnContext(ctx, "ポーリングに失敗しました。再試行します", "job_id", handle.ID, "attempt", st.polls, "error", err)
			if de != nil && de.Kind == domain.KindRateLimit {
				continue
			}
			st.transient++
			st.lastErr = err
			if st.transient >= p.opts.MaxTransientFailures {
				return nil, p.timedOut(st, err)
			}
			continue
		}
		st.transient = 0

		p.opts.Metrics.RecordPoll(string(p.opts.Family), js.Kind.String())
		status.Reportf(ctx, reporter, "Attempt %d: %s", st.polls, js.Raw)

		switch js.Kind {
		case domain.StatusReady:
			if js.ResultURL == "" && js.InlineData == nil {
				return nil, p.fail(st, domain.NewError(domain.KindProviderFailure, "poll", "ready without result").WithReason(js.Reason))
			}
			if js.Seed != nil {
				status.Reportf(ctx, reporter, "API used seed: %d", *js.Seed)
			}
			return &PollOutcome{Handle: handle, Status: js, Polls: st.polls, Elapsed: time.Since(st.start)}, nil

		case domain.StatusFailed:
			return nil, p.fail(st, domain.NewError(domain.KindProviderFailure, "poll",
				fmt.Sprintf("generation failed with status %q", js.Raw)).WithReason(js.Reason))

		case domain.StatusPending:
			st.pending++
			if st.pending >= p.opts.PendingWarnAfter && !st.warned {
				st.warned = true
				p.warnStuck(ctx, reporter, st, js)
			}

		default:
			st.pending = 0
			p.opts.Metrics.RecordUnknownStatus(js.Raw)
			slog.WarnContext(ctx, "未知のステータスです。ポーリングを継続します", "job_id", handle.ID, "status", js.Raw, "attempt", st.polls)
			status.Reportf(ctx, reporter, "Unknown status '%s', continuing to poll", js.Raw)
		}
	}
}

// fetch は 1 回の GET を行い、応答を分類します。各リクエストは全体の期限で打ち切られます。
func (p *Poller) fetch(ctx context.Context, deadlineAt time.Time, apiKey, pollingURL string) (domain.JobStatus, error) {
	reqCtx, cancel := context.WithDeadline(ctx, deadlineAt)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pollingURL, nil)
	if err != nil {
		return domain.JobStatus{}, domain.NewError(domain.KindRequest, "poll", "invalid polling URL").WithCause(err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-key", apiKey)

	resp, err := p.doer.Do(req)
	if err != nil {
		return domain.JobStatus{}, domain.NewError(domain.KindTransport, "poll", "request failed").WithCause(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.JobStatus{}, domain.NewError(domain.KindTransport, "poll", "failed to read response").WithCause(err)
	}

	code := resp.StatusCode
	if code != http.StatusOK {
		p.opts.Metrics.RecordPollHTTPStatus(string(p.opts.Family), code)
	}
	switch {
	case code >= 200 && code < 300:
		js, err := ParseStatus(body)
		if err != nil {
			return domain.JobStatus{}, domain.NewError(domain.KindTransport, "poll", "undecodable status response").
				WithStatusCode(code).WithCause(err)
		}
		return js, nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.JobStatus{}, domain.NewError(domain.KindAuth, "poll",
			fmt.Sprintf("API key rejected (HTTP %d)", code)).WithStatusCode(code).WithReason(ProviderDetail(body))
	case code == http.StatusTooManyRequests:
		return domain.JobStatus{}, domain.NewError(domain.KindRateLimit, "poll", "rate limited (HTTP 429)").WithStatusCode(code)
	case code == http.StatusNotFound || code >= 500 || code < 400:
		return domain.JobStatus{}, domain.NewError(domain.KindTransport, "poll",
			fmt.Sprintf("HTTP %d", code)).WithStatusCode(code)
	default:
		return domain.JobStatus{}, domain.NewError(domain.KindRequest, "poll",
			fmt.Sprintf("status request rejected (HTTP %d)", code)).WithStatusCode(code).WithReason(ProviderDetail(body))
	}
}

func isTransientPollError(e *domain.Error) bool {
	return e.Kind == domain.KindTransport || e.Kind == domain.KindRateLimit
}

func (p *Poller) warnStuck(ctx context.Context, reporter status.Reporter, st *pollState, js domain.JobStatus) {
	status.Reportf(ctx, reporter, "Request has been stuck in 'Pending' status for %d attempts (%s).", st.pending, time.Since(st.start).Round(time.Second))
	status.Reportf(ctx, reporter, "This might indicate API service overload, content safety filters blocking the request, or invalid request parameters. Try a different prompt or a higher safety_tolerance.")
	if len(js.Details) > 0 {
		status.Reportf(ctx, reporter, "API Details: %s", stringify(js.Details))
	}
	slog.WarnContext(ctx, "Pending が長時間続いています", "family", p.opts.Family, "pending_polls", st.pending, "details", js.Details)
}

func (p *Poller) timedOut(st *pollState, cause error) error {
	e := domain.NewError(domain.KindTimedOut, "poll", fmt.Sprintf("no terminal status within %s", p.opts.Timeout))
	if cause != nil {
		e.Message = fmt.Sprintf("%d consecutive poll failures", st.transient)
		e = e.WithCause(cause)
	} else if st.lastErr != nil {
		e = e.WithCause(st.lastErr)
	}
	if st.pending >= p.opts.PendingWarnAfter {
		e = e.WithReason(fmt.Sprintf("stuck in Pending for %d polls; this usually indicates provider load or content safety filters", st.pending))
	}
	return p.fail(st, e)
}

func (p *Poller) cancelled(ctx context.Context, st *pollState) error {
	return fmt.Errorf("poll cancelled after %d polls: %w", st.polls, ctx.Err())
}

func (p *Poller) fail(st *pollState, e *domain.Error) error {
	e.Family = p.opts.Family
	e.Elapsed = time.Since(st.start)
	e.Polls = st.polls
	return e
}
