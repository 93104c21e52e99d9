// Package syncer walks the local key/value area for pending recordings and
// hands each one to a remote uploader. The uploader shipped here is a no-op
// placeholder; wiring a real backend only needs another RemoteSyncer.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// TagBackgroundSync 是一次性后台同步的标签。
	TagBackgroundSync = "background-sync"
	// TagContentSync 是周期性后台同步的标签。
	TagContentSync = "content-sync"
)

// KeyValueReader 是本地存储的只读视图，localstore.Store 满足该接口。
type KeyValueReader interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) (string, bool, error)
}

// RemoteSyncer 上传单条待同步录音。
type RemoteSyncer interface {
	Upload(ctx context.Context, key, value string) error
}

// NopRemote 不做任何上传。
type NopRemote struct{}

// Upload implements RemoteSyncer.
func (NopRemote) Upload(context.Context, string, string) error { return nil }

// Syncer 负责挑出包含 marker 的 key 并逐条上传。
type Syncer struct {
	store  KeyValueReader
	remote RemoteSyncer
	marker string
	logger *logrus.Logger
}

// New 构造 Syncer；remote 为空时使用 NopRemote。
func New(store KeyValueReader, remote RemoteSyncer, marker string, logger *logrus.Logger) (*Syncer, error) {
	if store == nil {
		return nil, errors.New("local store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(marker) == "" {
		return nil, errors.New("recording marker is required")
	}
	if remote == nil {
		remote = NopRemote{}
	}
	return &Syncer{store: store, remote: remote, marker: marker, logger: logger}, nil
}

// Handles 判断 sync/periodicsync 标签是否由本组件处理。
func Handles(tag string, periodic bool) bool {
	if periodic {
		return tag == TagContentSync
	}
	return tag == TagBackgroundSync
}

// Pending 返回全部包含 marker 的 key。
func (s *Syncer) Pending(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local keys: %w", err)
	}
	var pending []string
	for _, key := range keys {
		if strings.Contains(key, s.marker) {
			pending = append(pending, key)
		}
	}
	return pending, nil
}

// SyncRecordings 上传全部待同步录音，返回成功条数。单条失败不会中断其余记录，
// 所有错误合并返回，由调用方记录。
func (s *Syncer) SyncRecordings(ctx context.Context) (int, error) {
	pending, err := s.Pending(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	var errs []error
	for _, key := range pending {
		value, found, err := s.store.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !found || value == "" {
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"action": "sync",
			"key":    key,
		}).Info("syncing_recording")
		if err := s.remote.Upload(ctx, key, value); err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", key, err))
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}
