// Package blob stores hand images and hands out their public URLs.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/wfunc/picklo/errs"
)

// Store 图片存储
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Open(key string) (io.ReadCloser, error)
	// Delete 删除不存在的 key 不报错
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// FSStore 基于 afero 文件系统的存储
type FSStore struct {
	fs      afero.Fs
	baseURL string
}

// NewFSStore 使用任意 afero 文件系统；baseURL 是 PublicURL 的前缀
func NewFSStore(fs afero.Fs, baseURL string) *FSStore {
	return &FSStore{fs: fs, baseURL: strings.TrimRight(baseURL, "/")}
}

// NewOSStore 把文件写在 dir 下
func NewOSStore(dir, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return NewFSStore(afero.NewBasePathFs(afero.NewOsFs(), dir), baseURL), nil
}

func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)
	if k == "/" || strings.Contains(key, "..") {
		return "", errs.Validationf("bad blob key %q", key)
	}
	return strings.TrimPrefix(k, "/"), nil
}

func (s *FSStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(k), 0o755); err != nil {
		return fmt.Errorf("blob mkdir: %w", err)
	}
	return afero.WriteReader(s.fs, k, bytes.NewReader(data))
}

func (s *FSStore) Open(key string) (io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(k)
	if os.IsNotExist(err) {
		return nil, errs.NotFoundf("blob %s", key)
	}
	return f, err
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(k); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob delete: %w", err)
	}
	return nil
}

func (s *FSStore) PublicURL(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

var _ Store = (*FSStore)(nil)
