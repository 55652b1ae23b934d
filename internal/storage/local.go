// Package storage はストレージ抽象化レイヤーを提供します。
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	artifactFilename = "artifact.bin"
	folderPrefix     = "models--"
)

// ErrInvalidName は保存名として使えない名前が指定された場合のエラーです。
var ErrInvalidName = errors.New("invalid artifact name")

// Local はローカルファイルシステム上のアーティファクトキャッシュです。
// 保存先: <root>/models--<owner>--<name>/artifact.bin
type Local struct {
	root string
}

// NewLocal はルートディレクトリを作成して Local を返します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{root: root}, nil
}

// Dir はアーティファクトの保存ディレクトリを返します。
func (l *Local) Dir(name string) (string, error) {
	folder, err := folderName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, folder), nil
}

// Has はアーティファクトがキャッシュ済みかどうかを返します。
func (l *Local) Has(name string) bool {
	dir, err := l.Dir(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, artifactFilename))
	return err == nil && info.Mode().IsRegular()
}

// Write は r の内容をアーティファクトとして保存し、保存先パスを返します。
// 一時ファイルへ書き込んでからリネームするため、途中で失敗しても不完全なファイルは残りません。
func (l *Local) Write(name string, r io.Reader) (string, error) {
	dir, err := l.Dir(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, artifactFilename+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}

	dst := filepath.Join(dir, artifactFilename)
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}
	return dst, nil
}

// Path はキャッシュ済みアーティファクトのファイルパスを返します。
func (l *Local) Path(name string) (string, error) {
	dir, err := l.Dir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, artifactFilename), nil
}

// Remove はアーティファクトを削除します。
func (l *Local) Remove(name string) error {
	dir, err := l.Dir(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func folderName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") || strings.ContainsAny(name, `\:`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return folderPrefix + strings.ReplaceAll(name, "/", "--"), nil
}
