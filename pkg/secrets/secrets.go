// Package secrets は (service, key) から API キーなどの秘密値を引くストアを提供します。
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvStore は環境変数と .env ファイルから値を引きます。
// service は参照に使わず、key をそのまま環境変数名として扱います。
// プロセスの環境変数が .env の値より優先されます。
type EnvStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewEnvStore は files に挙げた .env ファイルを読み込みます。存在しないファイルは無視します。
func NewEnvStore(files ...string) (*EnvStore, error) {
	values := make(map[string]string)
	for _, f := range files {
		m, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("secrets: %s の読み込みに失敗しました: %w", f, err)
		}
		for k, v := range m {
			if _, ok := values[k]; !ok {
				values[k] = v
			}
		}
	}
	return &EnvStore{values: values}, nil
}

// Lookup returns the value of key, preferring the process environment.
func (s *EnvStore) Lookup(_ string, key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// MapStore はテストや埋め込み用のメモリ上のストアです。キーは "service/key" です。
type MapStore map[string]string

// Set stores value under service/key.
func (m MapStore) Set(service, key, value string) {
	m[service+"/"+key] = value
}

// Lookup returns the value stored under service/key.
func (m MapStore) Lookup(service, key string) (string, bool) {
	v, ok := m[service+"/"+key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
