// Package config はキットの設定を読み込みます。
//
// 優先順位: 既定値 → YAML ファイル → .env → 環境変数
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config はキット全体の設定です。
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	Poll    PollConfig    `yaml:"poll"`
	Submit  SubmitConfig  `yaml:"submit"`
	Input   InputConfig   `yaml:"input"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Batch   BatchConfig   `yaml:"batch"`
}

// PollConfig はポーリングの設定です。Timeout が 0 なら Family ごとの既定値を使います。
type PollConfig struct {
	Interval             time.Duration `yaml:"interval"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxTransientFailures int           `yaml:"max_transient_failures"`
	PendingWarnAfter     int           `yaml:"pending_warn_after"`
}

// SubmitConfig は投入時の再試行の設定です。
type SubmitConfig struct {
	MaxTransportAttempts int           `yaml:"max_transport_attempts"`
	MaxRateLimitAttempts int           `yaml:"max_rate_limit_attempts"`
	InitialBackoff       time.Duration `yaml:"initial_backoff"`
	MaxBackoff           time.Duration `yaml:"max_backoff"`
}

// InputConfig は入力画像の扱いです。
type InputConfig struct {
	Compress         bool `yaml:"compress"`
	JPEGQuality      int  `yaml:"jpeg_quality"`
	AllowPrivateURLs bool `yaml:"allow_private_urls"`
}

// StorageConfig は生成画像の保存先です。
type StorageConfig struct {
	Dir           string `yaml:"dir"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// LogConfig はログの設定です。Format は text か json です。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig は Prometheus の設定です。Addr が空なら公開しません。
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Addr      string `yaml:"addr"`
}

// BatchConfig は batch サブコマンドの並列度と投入レート (件/秒) です。
type BatchConfig struct {
	Concurrency int     `yaml:"concurrency"`
	SubmitRate  float64 `yaml:"submit_rate"`
}

// Default は既定の設定を返します。
func Default() *Config {
	return &Config{
		BaseURL:     "https://api.bfl.ai",
		HTTPTimeout: 30 * time.Second,
		Poll: PollConfig{
			Interval:             500 * time.Millisecond,
			MaxTransientFailures: 10,
			PendingWarnAfter:     60,
		},
		Submit: SubmitConfig{
			MaxTransportAttempts: 4,
			MaxRateLimitAttempts: 3,
			InitialBackoff:       time.Second,
			MaxBackoff:           10 * time.Second,
		},
		Input: InputConfig{
			JPEGQuality: 90,
		},
		Storage: StorageConfig{
			Dir: "./outputs",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "bfl",
		},
		Batch: BatchConfig{
			Concurrency: 2,
			SubmitRate:  2,
		},
	}
}

// Load は path の YAML (空なら読まない) とカレントディレクトリの .env、環境変数を順に適用します。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
		}
	}

	// 既存の環境変数は上書きしない
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn(".env の読み込みに失敗しました", "error", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BFL_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("BFL_OUTPUT_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("BFL_PUBLIC_BASE_URL"); v != "" {
		c.Storage.PublicBaseURL = v
	}
	if v := os.Getenv("BFL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BFL_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BFL_POLL_INTERVAL", &c.Poll.Interval},
		{"BFL_POLL_TIMEOUT", &c.Poll.Timeout},
		{"BFL_HTTP_TIMEOUT", &c.HTTPTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// parseDuration は "500ms" 形式の他に秒数だけの指定も受け付けます。
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Validate は設定値を検証します。
func (c *Config) Validate() error {
	var problems []error
	if strings.TrimSpace(c.BaseURL) == "" {
		problems = append(problems, errors.New("base_url is required"))
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, errors.New("http_timeout must be positive"))
	}
	if c.Poll.Interval <= 0 {
		problems = append(problems, errors.New("poll.interval must be positive"))
	}
	if c.Poll.Timeout < 0 {
		problems = append(problems, errors.New("poll.timeout must not be negative"))
	}
	if c.Poll.MaxTransientFailures <= 0 {
		problems = append(problems, errors.New("poll.max_transient_failures must be positive"))
	}
	if c.Poll.PendingWarnAfter <= 0 {
		problems = append(problems, errors.New("poll.pending_warn_after must be positive"))
	}
	if c.Submit.MaxTransportAttempts <= 0 || c.Submit.MaxRateLimitAttempts <= 0 {
		problems = append(problems, errors.New("submit attempts must be positive"))
	}
	if c.Submit.InitialBackoff <= 0 {
		problems = append(problems, errors.New("submit.initial_backoff must be positive"))
	}
	if c.Input.JPEGQuality < 1 || c.Input.JPEGQuality > 100 {
		problems = append(problems, fmt.Errorf("input.jpeg_quality %d is outside 1-100", c.Input.JPEGQuality))
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		problems = append(problems, errors.New("storage.dir is required"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		problems = append(problems, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Batch.Concurrency <= 0 {
		problems = append(problems, errors.New("batch.concurrency must be positive"))
	}
	if c.Batch.SubmitRate <= 0 {
		problems = append(problems, errors.New("batch.submit_rate must be positive"))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}
	return nil
}

// ParseLevel は log.level を slog.Level に変換します。
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log.level %q is invalid: %w", s, err)
	}
	return level, nil
}
