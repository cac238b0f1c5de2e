// Package storage は生成画像をローカルディスクに保存します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileStore は生成画像を dir 配下に保存する静的ファイルストアです。
// publicBaseURL が空なら file:// の URL を返します。
type FileStore struct {
	dir           string
	publicBaseURL string
}

// NewFileStore は dir を作成して FileStore を初期化します。
func NewFileStore(dir, publicBaseURL string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage: output directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure output directory: %w", err)
	}
	if publicBaseURL != "" {
		u, err := url.Parse(publicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("storage: invalid public base URL %q", publicBaseURL)
		}
	}
	return &FileStore{dir: abs, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Dir returns the absolute output directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// SaveStaticFile は data を filename で保存し、取得可能な URL を返します。
// 同名のファイルがあれば上書きします。
func (s *FileStore) SaveStaticFile(ctx context.Context, data []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := sanitizeName(filename)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("storage: refusing to write an empty file")
	}

	fullPath := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: chmod file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: rename file: %w", err)
	}

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + url.PathEscape(name), nil
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(fullPath)}).String(), nil
}

// sanitizeName は平坦なファイル名だけを受け付け、ディレクトリの横断を防ぎます。
func sanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("storage: filename is required")
	}
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("storage: invalid filename %q", name)
	}
	if base != strings.TrimLeft(name, "/") {
		return "", fmt.Errorf("storage: filename %q must not contain directories", name)
	}
	return base, nil
}
