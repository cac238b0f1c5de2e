package generator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shouni/bfl-image-kit/pkg/adapters"
	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/status"
)

// --- Mocks ---

// scripted は偽 BFL サーバーが返す 1 回分の応答です。
type scripted struct {
	code int
	body string
}

// fakeBFL は投入とポーリングの応答を順番に返す httptest サーバーです。
// スクリプトを使い切った後は最後の応答を繰り返します。
type fakeBFL struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	submits     []scripted
	polls       []scripted
	submitCalls int
	pollCalls   int
	lastHeaders http.Header
	lastPath    string
	lastBody    []byte
	jobSeq      int
	onPoll      func(n int)
}

func newFakeBFL(t *testing.T) *fakeBFL {
	t.Helper()
	f := &fakeBFL{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBFL) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	var resp scripted
	var hook func(int)
	var n int
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/"):
		f.submitCalls++
		f.lastHeaders = r.Header.Clone()
		f.lastPath = r.URL.Path
		f.lastBody, _ = io.ReadAll(r.Body)
		resp = next(f.submits, f.submitCalls)
		if resp.body == "{{job}}" {
			f.jobSeq++
			id := "job-" + string(rune('a'+f.jobSeq-1))
			resp.body = `{"id":"` + id + `","polling_url":"` + f.server.URL + `/poll/` + id + `"}`
		}
	case r.Method == http.MethodGet:
		f.pollCalls++
		f.lastHeaders = r.Header.Clone()
		resp = next(f.polls, f.pollCalls)
		hook, n = f.onPoll, f.pollCalls
	default:
		resp = scripted{code: http.StatusMethodNotAllowed}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if resp.code == 0 {
		resp.code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.code)
	_, _ = io.WriteString(w, resp.body)
}

func next(script []scripted, call int) scripted {
	if len(script) == 0 {
		return scripted{code: http.StatusInternalServerError, body: `{"detail":"no script"}`}
	}
	if call > len(script) {
		return script[len(script)-1]
	}
	return script[call-1]
}

func (f *fakeBFL) counts() (submits, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls, f.pollCalls
}

func (f *fakeBFL) pollURL() string {
	return f.server.URL + "/v1/get_result?id=job-1"
}

// mockHTTPClient は結果画像のダウンロードを差し替えます。
type mockHTTPClient struct {
	mu      sync.Mutex
	data    []byte
	err     error
	lastURL string
	calls   int
}

func (m *mockHTTPClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastURL = url
	return m.data, m.err
}

// mockStore は保存されたファイルを記録します。
type mockStore struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (m *mockStore) SaveStaticFile(ctx context.Context, data []byte, filename string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[filename] = data
	return "https://static.example.com/" + filename, nil
}

type mockSecrets map[string]string

func (m mockSecrets) Lookup(service, key string) (string, bool) {
	v, ok := m[service+"/"+key]
	return v, ok
}

func withAPIKey(key string) mockSecrets {
	return mockSecrets{APIKeyService + "/" + APIKeyName: key}
}

// mockEncoder は入力画像を固定の base64 に置き換えます。
type mockEncoder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockEncoder) Encode(ctx context.Context, ref *domain.ImageRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if ref.IsZero() {
		return "", errors.New("empty image reference")
	}
	return "aW1hZ2U=", nil
}

// mockSubmitter は投入結果を順番に返します。
type mockSubmitter struct {
	results []error
	calls   int
}

func (m *mockSubmitter) Submit(ctx context.Context, apiKey string, payload *adapters.Payload) (domain.JobHandle, error) {
	m.calls++
	if m.calls <= len(m.results) && m.results[m.calls-1] != nil {
		return domain.JobHandle{}, m.results[m.calls-1]
	}
	return domain.JobHandle{ID: "job-ok", PollingURL: "https://api.bfl.ai/v1/get_result?id=job-ok"}, nil
}

type mockPoller struct {
	outcome *PollOutcome
	err     error
	calls   int
	handle  domain.JobHandle
}

func (m *mockPoller) Poll(ctx context.Context, apiKey string, handle domain.JobHandle, reporter status.Reporter) (*PollOutcome, error) {
	m.calls++
	m.handle = handle
	if m.err != nil {
		return nil, m.err
	}
	return m.outcome, nil
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, image.NewRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
