package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/langlearner/offline-cache/internal/notify"
	"github.com/langlearner/offline-cache/internal/proxy"
	"github.com/langlearner/offline-cache/internal/syncer"
)

// CacheProxy 是默认 handler 依赖的缓存代理能力，*proxy.CacheProxy 满足该接口。
type CacheProxy interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) ([]string, error)
	Claim()
	Fetch(ctx context.Context, req proxy.Request) proxy.Result
	CacheURL(ctx context.Context, rawURL string) error
	ClearCache(ctx context.Context) error
}

// RecordingSyncer 是后台同步依赖的能力，*syncer.Syncer 满足该接口。
type RecordingSyncer interface {
	SyncRecordings(ctx context.Context) (int, error)
}

// Dependencies 汇总默认 handler 需要的组件。
type Dependencies struct {
	Proxy        CacheProxy
	Notifier     notify.Notifier
	Template     notify.Template
	Syncer       RecordingSyncer
	Logger       *logrus.Logger
	SkipWaiting  bool
	ClaimClients bool
	Now          func() time.Time
}

// RegisterDefaults 为 rt 注册全部内置事件 handler。
func RegisterDefaults(rt *Runtime, deps Dependencies) error {
	if rt == nil {
		return errors.New("runtime is required")
	}
	if deps.Proxy == nil {
		return errors.New("cache proxy is required")
	}
	if deps.Logger == nil {
		return errors.New("logger is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	h := &defaultHandlers{rt: rt, deps: deps}
	handlers := []struct {
		kind    EventKind
		handler Handler
	}{
		{EventInstall, h.install},
		{EventActivate, h.activate},
		{EventFetch, h.fetch},
		{EventPush, h.push},
		{EventNotificationClick, h.notificationClick},
		{EventSync, h.backgroundSync},
		{EventPeriodicSync, h.backgroundSync},
		{EventMessage, h.message},
		{EventError, h.workerError},
	}
	for _, item := range handlers {
		if err := rt.Registry().Register(item.kind, item.handler); err != nil {
			return err
		}
	}
	return nil
}

type defaultHandlers struct {
	rt   *Runtime
	deps Dependencies
}

// install 预缓存失败只记录日志，worker 照常进入 installed。
func (h *defaultHandlers) install(ctx context.Context, _ *Event) error {
	if err := h.deps.Proxy.Install(ctx); err != nil {
		h.deps.Logger.WithError(err).WithField("action", "install").Warn("precache_failed")
	} else {
		h.deps.Logger.WithField("action", "install").Info("precache_complete")
	}
	if h.deps.SkipWaiting {
		h.rt.SkipWaiting(ctx)
	}
	return nil
}

func (h *defaultHandlers) activate(ctx context.Context, _ *Event) error {
	deleted, err := h.deps.Proxy.Activate(ctx)
	if h.deps.ClaimClients {
		h.deps.Proxy.Claim()
	}
	h.deps.Logger.WithFields(logrus.Fields{
		"action":  "activate",
		"deleted": deleted,
		"claimed": h.deps.ClaimClients,
	}).Info("worker_activated")
	return err
}

func (h *defaultHandlers) fetch(ctx context.Context, ev *Event) error {
	result := h.deps.Proxy.Fetch(ctx, ev.Request)
	ev.Response = &result
	return nil
}

func (h *defaultHandlers) push(ctx context.Context, ev *Event) error {
	n, ok := h.deps.Template.Build(ev.Data, h.deps.Now())
	if !ok {
		return nil
	}
	ev.Notification = &n
	if h.deps.Notifier == nil {
		return nil
	}
	return h.deps.Notifier.Show(ctx, n)
}

func (h *defaultHandlers) notificationClick(_ context.Context, ev *Event) error {
	if target, open := h.deps.Template.RouteClick(ev.Action); open {
		ev.Navigate = target
	}
	return nil
}

// backgroundSync 同时处理 sync 与 periodicsync；同步失败只记录日志。
func (h *defaultHandlers) backgroundSync(ctx context.Context, ev *Event) error {
	if h.deps.Syncer == nil || !syncer.Handles(ev.Tag, ev.Kind == EventPeriodicSync) {
		return nil
	}
	fields := logrus.Fields{"action": "sync", "tag": ev.Tag}
	synced, err := h.deps.Syncer.SyncRecordings(ctx)
	if err != nil {
		h.deps.Logger.WithFields(fields).WithError(err).Error("background_sync_failed")
		return nil
	}
	fields["synced"] = synced
	h.deps.Logger.WithFields(fields).Info("background_sync_complete")
	return nil
}

func (h *defaultHandlers) message(ctx context.Context, ev *Event) error {
	switch ev.Message.Type {
	case MessageSkipWaiting:
		h.rt.SkipWaiting(ctx)
		return nil
	case MessageCacheAudio:
		return h.deps.Proxy.CacheURL(ctx, ev.Message.URL)
	case MessageClearCache:
		return h.deps.Proxy.ClearCache(ctx)
	default:
		return nil
	}
}

func (h *defaultHandlers) workerError(_ context.Context, ev *Event) error {
	h.deps.Logger.WithError(ev.Err).WithField("action", "worker_error").Error("worker_error_event")
	return nil
}
