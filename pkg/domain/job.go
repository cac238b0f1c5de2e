package domain

import "time"

// JobHandle は投入時にプロバイダーが返すタスク識別子とポーリング先です。
// 1 つの JobHandle をポーリングするループは常に 1 つだけです。
type JobHandle struct {
	ID         string
	PollingURL string
}

// StatusKind は 1 回のポーリング応答を分類した結果です。
type StatusKind int

const (
	StatusPending StatusKind = iota
	StatusReady
	StatusFailed
	StatusUnknown
)

func (k StatusKind) String() string {
	switch k {
	case StatusPending:
		return "Pending"
	case StatusReady:
		return "Ready"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// JobStatus は 1 回のポーリング応答の解釈です。1 サイクルを超えて保持しません。
type JobStatus struct {
	Kind StatusKind
	// Raw はプロバイダーが返したステータス文字列そのものです。
	Raw string
	// ResultURL は Ready のときの署名付き URL です (約 10 分で失効)。
	ResultURL string
	// InlineData は結果が data URI で埋め込まれていた場合のデコード済みバイト列です。
	InlineData []byte
	// Seed はプロバイダーが実際に使った seed です。
	Seed *int64
	// Reason は Failed のときのプロバイダーの理由文字列です (加工しません)。
	Reason string
	// Details は Pending が長引いたときの診断用に残すプロバイダーの details です。
	Details map[string]any
}

// Terminal reports whether polling must stop after this status.
func (s JobStatus) Terminal() bool {
	return s.Kind == StatusReady || s.Kind == StatusFailed
}

// GenerationResult は 1 ジョブの最終成果物です。
type GenerationResult struct {
	RunID  string
	Family Family
	Model  string
	JobID  string

	Data     []byte
	MimeType string
	Format   OutputFormat

	// SourceURL はプロバイダー側の結果 URL、ArtifactURL は保存先が返した参照です。
	SourceURL   string
	ArtifactURL string
	Filename    string

	UsedSeed *int64
	Polls    int
	Elapsed  time.Duration
}
