package generator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/shouni/bfl-image-kit/pkg/adapters"
	"github.com/shouni/bfl-image-kit/pkg/domain"
)

// Submitter は生成ジョブを 1 回だけ POST し、失敗を分類します。
type Submitter struct {
	baseURL string
	doer    Doer
}

// NewSubmitter は baseURL (例: https://api.bfl.ai) に投入する Submitter を生成します。
func NewSubmitter(baseURL string, doer Doer) (*Submitter, error) {
	if doer == nil {
		return nil, fmt.Errorf("doer is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	return &Submitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		doer:    doer,
	}, nil
}

type submitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

// Submit は payload を POST {base}/v1/{model} に送り、JobHandle を返します。
func (s *Submitter) Submit(ctx context.Context, apiKey string, payload *adapters.Payload) (domain.JobHandle, error) {
	if strings.TrimSpace(apiKey) == "" {
		return domain.JobHandle{}, domain.NewError(domain.KindAuth, "submit", "BFL API key is not configured")
	}
	if payload == nil || payload.Model == "" {
		return domain.JobHandle{}, domain.NewError(domain.KindValidation, "submit", "payload has no model")
	}

	endpoint := s.baseURL + "/v1/" + url.PathEscape(payload.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload.Body))
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	slog.DebugContext(ctx, "BFL にジョブを投入します", "model", payload.Model, "payload", payload.Redacted)

	resp, err := s.doer.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.JobHandle{}, fmt.Errorf("submit: %w", ctxErr)
		}
		return domain.JobHandle{}, domain.NewError(domain.KindTransport, "submit", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.JobHandle{}, domain.NewError(domain.KindTransport, "submit", "failed to read response").
			WithStatusCode(resp.StatusCode).WithCause(err)
	}

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return s.parseHandle(body, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.JobHandle{}, domain.NewError(domain.KindAuth, "submit",
			fmt.Sprintf("API key rejected (HTTP %d)", code)).WithStatusCode(code).WithReason(ProviderDetail(body))
	case code == http.StatusTooManyRequests:
		return domain.JobHandle{}, domain.NewError(domain.KindRateLimit, "submit",
			"rate limited (HTTP 429)").WithStatusCode(code).WithReason(ProviderDetail(body))
	case code >= 500:
		return domain.JobHandle{}, domain.NewError(domain.KindTransport, "submit",
			fmt.Sprintf("provider unavailable (HTTP %d)", code)).WithStatusCode(code).WithReason(ProviderDetail(body))
	case code >= 400:
		return domain.JobHandle{}, domain.NewError(domain.KindRequest, "submit",
			fmt.Sprintf("request rejected (HTTP %d)", code)).WithStatusCode(code).WithReason(ProviderDetail(body))
	default:
		return domain.JobHandle{}, domain.NewError(domain.KindTransport, "submit",
			fmt.Sprintf("unexpected HTTP status %d", code)).WithStatusCode(code)
	}
}

func (s *Submitter) parseHandle(body []byte, code int) (domain.JobHandle, error) {
	var r submitResponse
	if err := json.Unmarshal(body, &r); err != nil || strings.TrimSpace(r.ID) == "" {
		e := domain.NewError(domain.KindRequest, "submit", "unexpected response format").
			WithStatusCode(code).WithReason(truncate(string(body), 300))
		if err != nil {
			e = e.WithCause(err)
		}
		return domain.JobHandle{}, e
	}

	h := domain.JobHandle{ID: r.ID, PollingURL: r.PollingURL}
	if h.PollingURL == "" {
		h.PollingURL = s.baseURL + "/v1/get_result?id=" + url.QueryEscape(r.ID)
	}
	return h, nil
}

// ProviderDetail はエラー応答の "detail" を取り出します。
// 文字列ならそのまま、{loc, msg} の配列なら "loc: msg" を "; " で連結し、
// どちらでもなければ本文そのものを返します。
func ProviderDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Detail) > 0 {
		var text string
		if err := json.Unmarshal(env.Detail, &text); err == nil {
			return text
		}
		var items []struct {
			Loc []any  `json:"loc"`
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(env.Detail, &items); err == nil && len(items) > 0 {
			parts := make([]string, 0, len(items))
			for _, it := range items {
				loc := make([]string, 0, len(it.Loc))
				for _, l := range it.Loc {
					loc = append(loc, fmt.Sprint(l))
				}
				if len(loc) == 0 {
					parts = append(parts, it.Msg)
					continue
				}
				parts = append(parts, strings.Join(loc, ".")+": "+it.Msg)
			}
			return strings.Join(parts, "; ")
		}
		return string(env.Detail)
	}
	return strings.TrimSpace(truncate(string(body), 2000))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
