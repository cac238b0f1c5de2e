// Package status はノードの status 出力に流す進捗メッセージを扱います。
package status

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Reporter は人が読む進捗行を受け取ります。UI の整形はしません。
type Reporter interface {
	Report(ctx context.Context, line string)
}

// Reportf は r が nil でも安全に 1 行を送ります。
func Reportf(ctx context.Context, r Reporter, format string, args ...any) {
	if r == nil {
		return
	}
	r.Report(ctx, fmt.Sprintf(format, args...))
}

// Buffer はノードの status パラメータに相当する追記型のバッファです。
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Report(_ context.Context, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, strings.TrimRight(line, "\n"))
}

// Clear は実行開始時に前回の内容を消します。
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
}

// Lines returns a copy of the reported lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// String は各行を改行で終端して連結します。
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	for _, l := range b.lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}

type slogReporter struct {
	attrs []any
}

// NewSlogReporter は進捗行を slog の INFO として出力します。
func NewSlogReporter(attrs ...any) Reporter {
	return &slogReporter{attrs: attrs}
}

func (s *slogReporter) Report(ctx context.Context, line string) {
	slog.InfoContext(ctx, line, s.attrs...)
}

type multi []Reporter

// Multi は複数の Reporter に同じ行を配ります。nil は無視します。
func Multi(reporters ...Reporter) Reporter {
	var m multi
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m multi) Report(ctx context.Context, line string) {
	for _, r := range m {
		r.Report(ctx, line)
	}
}
