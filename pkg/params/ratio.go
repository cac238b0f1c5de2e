package params

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxRatioTerm は比率の各項の上限です。これを超える比率はどの Family の範囲にも入りません。
const MaxRatioTerm = 100

// Ratio is a width:height aspect ratio with positive terms.
type Ratio struct {
	W int
	H int
}

// ParseRatio parses "W:H".
func ParseRatio(s string) (Ratio, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Ratio{}, fmt.Errorf("invalid aspect ratio %q, expected 'width:height'", s)
	}
	wi, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Ratio{}, fmt.Errorf("invalid aspect ratio %q: %w", s, err)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Ratio{}, fmt.Errorf("invalid aspect ratio %q: %w", s, err)
	}
	if wi <= 0 || hi <= 0 {
		return Ratio{}, fmt.Errorf("invalid aspect ratio %q: terms must be positive", s)
	}
	if wi > MaxRatioTerm || hi > MaxRatioTerm {
		return Ratio{}, fmt.Errorf("invalid aspect ratio %q: terms must not exceed %d", s, MaxRatioTerm)
	}
	return Ratio{W: wi, H: hi}, nil
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d:%d", r.W, r.H)
}

// IsZero reports whether r is the zero value.
func (r Ratio) IsZero() bool {
	return r.W == 0 || r.H == 0
}

// Within reports whether min <= r <= max, compared exactly by cross-multiplication.
func (r Ratio) Within(min, max Ratio) bool {
	return r.W*min.H >= min.W*r.H && r.W*max.H <= max.W*r.H
}

// ImageSize は max_size とアスペクト比から width/height を求めます。
// 長辺を maxSize に合わせ、両辺を 32 の倍数に切り捨てます。
func ImageSize(maxSize int, r Ratio) (width, height int) {
	if r.IsZero() || maxSize <= 0 {
		return 0, 0
	}
	if r.W > r.H {
		width = maxSize
		height = maxSize * r.H / r.W
	} else {
		height = maxSize
		width = maxSize * r.W / r.H
	}
	return width / SizeStep * SizeStep, height / SizeStep * SizeStep
}

// FormatSize renders a size as "WxH".
func FormatSize(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}
