package imgutil

import (
	"bytes"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/bfl-image-kit/pkg/domain"
)

func TestFormatOf(t *testing.T) {
	f, ok := FormatOf(imageBytes(t, "png"))
	assert.True(t, ok)
	assert.Equal(t, domain.FormatPNG, f)

	f, ok = FormatOf(imageBytes(t, "jpeg"))
	assert.True(t, ok)
	assert.Equal(t, domain.FormatJPEG, f)

	_, ok = FormatOf([]byte("GIF89a"))
	assert.False(t, ok)
	assert.True(t, IsImage([]byte("GIF89a")))
	assert.False(t, IsImage([]byte("<html></html>")))
}

func TestTranscode(t *testing.T) {
	t.Run("同じ形式ならバイト列をそのまま返す", func(t *testing.T) {
		in := imageBytes(t, "jpeg")
		out, err := Transcode(in, domain.FormatJPEG, 90)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("PNG を JPEG に変換する", func(t *testing.T) {
		out, err := Transcode(imageBytes(t, "png"), domain.FormatJPEG, 90)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", Sniff(out))
	})

	t.Run("JPEG を PNG に変換する", func(t *testing.T) {
		out, err := Transcode(imageBytes(t, "jpeg"), domain.FormatPNG, 0)
		require.NoError(t, err)
		_, format, err := image.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, "png", format)
	})

	t.Run("画像でなければエラー", func(t *testing.T) {
		_, err := Transcode([]byte("not an image"), domain.FormatPNG, 0)
		assert.Error(t, err)
	})
}
