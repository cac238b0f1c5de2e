package imgutil

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strings"

	"github.com/shouni/bfl-image-kit/pkg/domain"
)

const DefaultJPEGQuality = 90

// Sniff は先頭バイトから MIME タイプを判定します。
func Sniff(data []byte) string {
	return http.DetectContentType(data)
}

// IsImage reports whether data looks like an image.
func IsImage(data []byte) bool {
	return strings.HasPrefix(Sniff(data), "image/")
}

// FormatOf maps sniffed bytes to an OutputFormat; ok is false for anything
// other than JPEG or PNG.
func FormatOf(data []byte) (domain.OutputFormat, bool) {
	switch Sniff(data) {
	case "image/jpeg":
		return domain.FormatJPEG, true
	case "image/png":
		return domain.FormatPNG, true
	}
	return "", false
}

// Transcode は data を format に変換します。既に同じ形式ならそのまま返します。
func Transcode(data []byte, format domain.OutputFormat, quality int) ([]byte, error) {
	if got, ok := FormatOf(data); ok && got == format {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("画像のデコードに失敗しました (%s): %w", Sniff(data), err)
	}
	switch format {
	case domain.FormatJPEG:
		return encodeJPEG(img, quality)
	case domain.FormatPNG:
		buf := new(bytes.Buffer)
		if err := png.Encode(buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported output format %q", format)
}
