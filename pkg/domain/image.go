package domain

import "strings"

// Family は BFL ノードの種別です。検証範囲とペイロード形状は Family ごとに異なります。
type Family string

const (
	FamilyFluxText    Family = "flux_text_to_image"
	FamilyKontextText Family = "kontext_text_to_image"
	FamilyKontextEdit Family = "kontext_image_edit"
	FamilyFluxFill    Family = "flux_fill"
)

// Families returns every family in display order.
func Families() []Family {
	return []Family{FamilyFluxText, FamilyKontextText, FamilyKontextEdit, FamilyFluxFill}
}

// ParseFamily accepts the canonical id or the short CLI aliases.
func ParseFamily(s string) (Family, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(FamilyFluxText), "flux", "text_to_image":
		return FamilyFluxText, true
	case string(FamilyKontextText), "kontext":
		return FamilyKontextText, true
	case string(FamilyKontextEdit), "edit", "kontext_edit":
		return FamilyKontextEdit, true
	case string(FamilyFluxFill), "fill":
		return FamilyFluxFill, true
	}
	return "", false
}

// OutputFormat は生成画像のフォーマットです。
type OutputFormat string

const (
	FormatJPEG OutputFormat = "jpeg"
	FormatPNG  OutputFormat = "png"
)

// MimeType returns the IANA media type of the format.
func (f OutputFormat) MimeType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Ext returns the lower-case file extension without the dot.
func (f OutputFormat) Ext() string {
	return strings.ToLower(string(f))
}

// ImageRef は入力画像の参照です。Data が優先され、空なら URL を解決します。
// URL は http(s) の他に gs:// などのリモート URI も受け付けます。
type ImageRef struct {
	Data []byte
	URL  string
}

// IsZero reports whether the reference carries neither bytes nor a location.
func (r *ImageRef) IsZero() bool {
	return r == nil || (len(r.Data) == 0 && strings.TrimSpace(r.URL) == "")
}

// GenerationRequest は投入前の 1 ジョブを表す値です。値渡しで扱い、投入後に変更しません。
type GenerationRequest struct {
	Family      Family
	Model       string
	Prompt      string
	AspectRatio string
	// MaxSize は width/height を送る FLUX モデルでのみ使います (0 で既定値)。
	MaxSize int
	// Seed が nil または 0 以下ならランダム生成です。
	Seed *int64
	// SafetyTolerance が nil なら Family の既定値を使います。
	SafetyTolerance *int
	OutputFormat    OutputFormat

	Raw              bool
	PromptUpsampling bool
	InputImage       *ImageRef
	Mask             *ImageRef
	Steps            int
	Guidance         float64
}

// HasSeed reports whether a usable seed was supplied.
func (r GenerationRequest) HasSeed() bool {
	return r.Seed != nil && *r.Seed > 0
}
