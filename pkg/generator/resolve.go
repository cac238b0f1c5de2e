package generator

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/shouni/bfl-image-kit/pkg/domain"
)

// プロバイダーのステータス文字列。ここに無いものは Unknown として扱い、ポーリングを続けます。
// 未定義の中間状態で落とさないための方針であり、将来のステータスが常に一時的だという保証ではありません。
var (
	pendingStatuses = map[string]bool{
		"Pending":         true,
		"Processing":      true,
		"Queued":          true,
		"Task-queued":     true,
		"Task-processing": true,
	}
	failedStatuses = map[string]bool{
		"Error":             true,
		"Failed":            true,
		"Request Moderated": true,
		"Content Moderated": true,
		"Task not found":    true,
	}
)

const statusReady = "Ready"

type pollResponse struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result"`
	Details map[string]any  `json:"details"`
}

type pollResult struct {
	Sample   string          `json:"sample"`
	URL      string          `json:"url"`
	ImageURL string          `json:"image_url"`
	Seed     json.RawMessage `json:"seed"`
	Error    any             `json:"error"`
}

// ParseStatus は 1 回のポーリング応答を JobStatus に変換します。副作用はありません。
// 本文が JSON として読めない場合だけエラーを返します。
func ParseStatus(body []byte) (domain.JobStatus, error) {
	var r pollResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.JobStatus{}, fmt.Errorf("ステータス応答のデコードに失敗しました: %w", err)
	}

	var res pollResult
	var resultMap map[string]any
	if len(r.Result) > 0 && string(r.Result) != "null" {
		_ = json.Unmarshal(r.Result, &res)
		_ = json.Unmarshal(r.Result, &resultMap)
	}

	st := domain.JobStatus{Raw: r.Status, Details: r.Details}
	switch {
	case r.Status == statusReady:
		st.Kind = domain.StatusReady
		st.Seed = seedValue(res.Seed)
		ref := firstNonEmpty(res.Sample, res.URL, res.ImageURL)
		if data, ok := decodeDataURI(ref); ok {
			st.InlineData = data
		} else {
			st.ResultURL = ref
		}
		if st.ResultURL == "" && st.InlineData == nil {
			st.Reason = "no image URL in result (keys: " + strings.Join(sortedKeys(resultMap), ", ") + ")"
		}
	case pendingStatuses[r.Status]:
		st.Kind = domain.StatusPending
	case failedStatuses[r.Status]:
		st.Kind = domain.StatusFailed
		st.Reason = failureReason(r.Status, res, r.Details)
	default:
		st.Kind = domain.StatusUnknown
	}
	return st, nil
}

// failureReason は加工せずにプロバイダーの理由を返します。
func failureReason(status string, res pollResult, details map[string]any) string {
	if reasons, ok := details["Moderation Reasons"].([]any); ok && len(reasons) > 0 {
		parts := make([]string, 0, len(reasons))
		for _, r := range reasons {
			parts = append(parts, fmt.Sprint(r))
		}
		return strings.Join(parts, ", ")
	}
	for _, v := range []any{res.Error, details["error"], details["message"]} {
		if s := stringify(v); s != "" {
			return s
		}
	}
	return status
}

func decodeDataURI(ref string) ([]byte, bool) {
	if !strings.HasPrefix(ref, "data:") {
		return nil, false
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return data, true
}

// seedValue は数値と数字文字列のどちらの seed も int64 の精度のまま読みます。
func seedValue(raw json.RawMessage) *int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		n = int64(f)
	}
	if n <= 0 {
		return nil
	}
	return &n
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
