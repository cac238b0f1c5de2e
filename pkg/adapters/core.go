package adapters

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/remoteio"

	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/imgutil"
)

// maxInputImageBytes はリモート URI から読み込む入力画像の上限です。
const maxInputImageBytes = 20 << 20

// SourceOptions は入力画像の取得方法を調整します。
type SourceOptions struct {
	// AllowPrivateURLs が true ならプライベートアドレスへの取得を許可します (ローカル検証用)。
	AllowPrivateURLs bool
	// Compress が true なら base64 化の前に JPEG へ再圧縮します。
	Compress    bool
	JPEGQuality int
}

// ImageSource はバイト列・http(s) URL・リモート URI の入力画像を base64 文字列に変換します。
type ImageSource struct {
	httpClient httpkit.ClientInterface
	reader     remoteio.InputReader
	opts       SourceOptions
	checkURL   func(rawURL string) (bool, error)
}

// NewImageSource は依存関係を注入して ImageSource を生成します。
// reader は nil を許容します (その場合 gs:// などのリモート URI は扱えません)。
func NewImageSource(httpClient httpkit.ClientInterface, reader remoteio.InputReader, opts SourceOptions) (*ImageSource, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("httpClient is required")
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = imgutil.DefaultJPEGQuality
	}
	s := &ImageSource{
		httpClient: httpClient,
		reader:     reader,
		opts:       opts,
		checkURL:   isSafeURL,
	}
	if opts.AllowPrivateURLs {
		s.checkURL = isWellFormedURL
	}
	return s, nil
}

// Encode は ref の画像を取得し、標準 base64 でエンコードして返します。
func (s *ImageSource) Encode(ctx context.Context, ref *domain.ImageRef) (string, error) {
	data, err := s.Load(ctx, ref)
	if err != nil {
		return "", err
	}
	if s.opts.Compress {
		if compressed, err := imgutil.CompressToJPEG(data, s.opts.JPEGQuality); err == nil {
			data = compressed
		} else {
			slog.WarnContext(ctx, "入力画像の圧縮に失敗しました。元のデータを使用します", "error", err)
		}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Load は ref の画像バイト列を返します。Data があれば URL より優先します。
func (s *ImageSource) Load(ctx context.Context, ref *domain.ImageRef) ([]byte, error) {
	if ref.IsZero() {
		return nil, domain.NewError(domain.KindValidation, "input_image", "no image data or URL")
	}

	data := ref.Data
	if len(data) == 0 {
		var err error
		data, err = s.fetch(ctx, strings.TrimSpace(ref.URL))
		if err != nil {
			return nil, err
		}
	}

	if !imgutil.IsImage(data) {
		return nil, domain.NewError(domain.KindValidation, "input_image",
			fmt.Sprintf("input is not an image (detected %s)", imgutil.Sniff(data)))
	}
	return data, nil
}

func (s *ImageSource) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		// SSRF対策のバリデーション
		if safe, err := s.checkURL(rawURL); !safe || err != nil {
			slog.WarnContext(ctx, "SSRFの可能性がある、または不正なURLをブロックしました", "url", rawURL, "error", err)
			return nil, domain.NewError(domain.KindValidation, "input_image", "refused to fetch image URL").WithCause(err)
		}
		data, err := s.httpClient.FetchBytes(ctx, rawURL)
		if err != nil {
			return nil, domain.NewError(domain.KindTransport, "input_image", "failed to download input image").WithCause(err)
		}
		return data, nil
	}

	if s.reader == nil || !strings.Contains(rawURL, "://") {
		return nil, domain.NewError(domain.KindValidation, "input_image",
			fmt.Sprintf("unsupported image reference %q, expected http(s) URL or remote URI", rawURL))
	}

	rc, err := s.reader.Open(ctx, rawURL)
	if err != nil {
		return nil, domain.NewError(domain.KindTransport, "input_image", "failed to open input image").WithCause(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxInputImageBytes+1))
	if err != nil {
		return nil, domain.NewError(domain.KindTransport, "input_image", "failed to read input image").WithCause(err)
	}
	if len(data) > maxInputImageBytes {
		return nil, domain.NewError(domain.KindValidation, "input_image",
			fmt.Sprintf("input image exceeds %d bytes", maxInputImageBytes))
	}
	return data, nil
}

func isWellFormedURL(rawURL string) (bool, error) {
	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return false, fmt.Errorf("URLパース失敗: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false, fmt.Errorf("不許可スキーム: %s", parsedURL.Scheme)
	}
	if parsedURL.Hostname() == "" {
		return false, fmt.Errorf("ホストがありません")
	}
	return true, nil
}

// isSafeURL は SSRF 対策として URL を検証します。
// 名前解決されたすべての IP アドレスに対してプライベート IP チェックを行います。
func isSafeURL(rawURL string) (bool, error) {
	if ok, err := isWellFormedURL(rawURL); !ok {
		return false, err
	}
	parsedURL, _ := url.Parse(rawURL)
	host := parsedURL.Hostname()

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolvedIPs, err := net.LookupIP(host)
		if err != nil {
			return false, fmt.Errorf("名前解決失敗: %w", err)
		}
		ips = resolvedIPs
	}

	if len(ips) == 0 {
		return false, fmt.Errorf("IPが見つかりません")
	}

	for _, ip := range ips {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return false, fmt.Errorf("制限されたネットワークへのアクセスを検知: %s", ip.String())
		}
	}

	return true, nil
}
