package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/langlearner/offline-cache/internal/logging"
	"github.com/langlearner/offline-cache/internal/proxy"
	"github.com/langlearner/offline-cache/internal/telemetry"
)

// Options 描述 Runtime 的依赖。Maintenance 为空或 Interval<=0 时不启动周期任务。
type Options struct {
	Registry  *Registry
	Logger    *logrus.Logger
	Metrics   *telemetry.Metrics
	Scheduler Scheduler

	Maintenance func(ctx context.Context) error
	Interval    time.Duration
}

// Runtime 驱动 worker 生命周期并分发事件。
type Runtime struct {
	registry    *Registry
	logger      *logrus.Logger
	metrics     *telemetry.Metrics
	scheduler   Scheduler
	maintenance func(ctx context.Context) error
	interval    time.Duration

	// lifecycle 串行化 install/activate 转换。
	lifecycle sync.Mutex

	stateMu sync.RWMutex
	state   State

	skipWaiting atomic.Bool
	stop        func()
}

// NewRuntime 校验依赖并创建处于 parsed 状态的 Runtime。
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = TickerScheduler{}
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetrics(false, "")
	}
	rt := &Runtime{
		registry:    opts.Registry,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		scheduler:   opts.Scheduler,
		maintenance: opts.Maintenance,
		interval:    opts.Interval,
	}
	rt.setState(StateParsed)
	return rt, nil
}

// Registry 返回事件 handler 注册表。
func (r *Runtime) Registry() *Registry {
	return r.registry
}

// State 返回当前生命周期状态。
func (r *Runtime) State() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

func (r *Runtime) setState(state State) {
	r.stateMu.Lock()
	prev := r.state
	r.state = state
	r.stateMu.Unlock()

	r.metrics.SetLifecycleState(string(state), KnownStates())
	if prev != "" {
		r.logger.WithFields(logrus.Fields{
			"action": "lifecycle",
			"from":   string(prev),
			"to":     string(state),
		}).Info("worker_state_changed")
	}
}

// Start 分发 install；install handler 报错时 worker 变为 redundant。
// 安装期间收到 skip-waiting 信号则立即激活，否则停留在 installed 等待 SkipWaiting。
func (r *Runtime) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if state := r.State(); state != StateParsed {
		return fmt.Errorf("worker already started (state=%s)", state)
	}

	r.setState(StateInstalling)
	if err := r.Dispatch(ctx, &Event{Kind: EventInstall}); err != nil {
		r.setState(StateRedundant)
		return fmt.Errorf("install: %w", err)
	}
	r.setState(StateInstalled)

	if r.skipWaiting.Load() {
		r.activateLocked(ctx)
	}
	r.startMaintenance()
	return nil
}

// SkipWaiting 标记跳过等待；若 worker 已处于 installed 则立即激活。
// 在 install handler 内调用时只记录标记，由 Start 完成激活。
func (r *Runtime) SkipWaiting(ctx context.Context) {
	r.skipWaiting.Store(true)
	if r.State() != StateInstalled {
		return
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.State() == StateInstalled {
		r.activateLocked(ctx)
	}
}

func (r *Runtime) activateLocked(ctx context.Context) {
	r.setState(StateActivating)
	// activate 失败只记录日志，worker 仍然进入 activated。
	_ = r.Dispatch(ctx, &Event{Kind: EventActivate})
	r.setState(StateActivated)
}

func (r *Runtime) startMaintenance() {
	if r.maintenance == nil || r.interval <= 0 {
		return
	}
	r.stop = r.scheduler.Every(r.interval, func() {
		if err := r.maintenance(context.Background()); err != nil {
			r.logger.WithError(err).WithField("action", "periodic_cleanup").Warn("periodic_cleanup_failed")
			return
		}
		r.logger.WithField("action", "periodic_cleanup").Debug("periodic_cleanup_complete")
	})
}

// Dispatch 调用 kind 对应的 handler 并等待其返回。未注册的事件直接忽略。
func (r *Runtime) Dispatch(ctx context.Context, ev *Event) (err error) {
	if ev == nil {
		return errors.New("event is required")
	}
	handler, ok := r.registry.Fetch(ev.Kind)
	if !ok {
		return nil
	}

	defer func() {
		rec := recover()
		if rec != nil {
			err = fmt.Errorf("%s handler panicked: %v", ev.Kind, rec)
			fields := logging.EventFields(string(ev.Kind), string(r.State()))
			fields["action"] = "worker_error"
			r.logger.WithFields(fields).WithField("panic", rec).Error("worker_handler_panic")
		}
		r.metrics.RecordWorkerEvent(string(ev.Kind), err)
		// error handler 自身 panic 时不再转发，避免递归。
		if rec != nil && ev.Kind != EventError {
			r.ReportError(ctx, err)
		}
	}()

	if err = handler(ctx, ev); err != nil {
		fields := logging.EventFields(string(ev.Kind), string(r.State()))
		fields["action"] = "unhandled_rejection"
		r.logger.WithFields(fields).WithError(err).Error("worker_handler_failed")
	}
	return err
}

// Intercept 把拦截请求作为 fetch 事件分发，实现 proxy.Interceptor。
func (r *Runtime) Intercept(ctx context.Context, req proxy.Request) (proxy.Result, error) {
	if r.State() == StateRedundant {
		return proxy.Result{}, errors.New("worker is redundant")
	}
	ev := &Event{Kind: EventFetch, Request: req}
	if err := r.Dispatch(ctx, ev); err != nil {
		return proxy.Result{}, err
	}
	if ev.Response == nil || ev.Response.Response == nil {
		return proxy.Result{}, errors.New("fetch handler produced no response")
	}
	return *ev.Response, nil
}

// ReportError 分发 worker 级错误事件；handler panic 时由 Dispatch 自动调用。
func (r *Runtime) ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	_ = r.Dispatch(ctx, &Event{Kind: EventError, Err: err})
}

// Shutdown 停止周期任务并把 worker 标记为 redundant。
func (r *Runtime) Shutdown() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
	if r.State() != StateRedundant {
		r.setState(StateRedundant)
	}
}
