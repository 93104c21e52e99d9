package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/langlearner/offline-cache/internal/proxy"
)

func TestStartWithSkipWaitingActivates(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	var order []EventKind
	rt.Registry().MustRegister(EventInstall, func(ctx context.Context, ev *Event) error {
		order = append(order, ev.Kind)
		rt.SkipWaiting(ctx)
		return nil
	})
	rt.Registry().MustRegister(EventActivate, func(_ context.Context, ev *Event) error {
		order = append(order, ev.Kind)
		return nil
	})

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if rt.State() != StateActivated {
		t.Fatalf("expected activated, got %s", rt.State())
	}
	if len(order) != 2 || order[0] != EventInstall || order[1] != EventActivate {
		t.Fatalf("unexpected event order: %v", order)
	}
}

func TestStartWithoutSkipWaitingStaysInstalled(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	activated := false
	rt.Registry().MustRegister(EventActivate, func(context.Context, *Event) error {
		activated = true
		return nil
	})

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if rt.State() != StateInstalled || activated {
		t.Fatalf("expected waiting worker, state=%s activated=%v", rt.State(), activated)
	}

	rt.SkipWaiting(context.Background())
	if rt.State() != StateActivated || !activated {
		t.Fatalf("expected activation after skip waiting, state=%s", rt.State())
	}

	// 重复调用不会再次激活
	activated = false
	rt.SkipWaiting(context.Background())
	if activated {
		t.Fatalf("activate should run once")
	}
}

func TestStartTwiceFails(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func TestInstallErrorMakesWorkerRedundant(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	rt.Registry().MustRegister(EventInstall, func(context.Context, *Event) error {
		return errors.New("boom")
	})

	if err := rt.Start(context.Background()); err == nil {
		t.Fatalf("expected install error")
	}
	if rt.State() != StateRedundant {
		t.Fatalf("expected redundant, got %s", rt.State())
	}
	if _, err := rt.Intercept(context.Background(), proxy.NewRequest("/", "")); err == nil {
		t.Fatalf("redundant worker should not intercept")
	}
}

func TestActivateErrorStillActivates(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	rt.Registry().MustRegister(EventActivate, func(context.Context, *Event) error {
		return errors.New("delete failed")
	})
	rt.SkipWaiting(context.Background())
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if rt.State() != StateActivated {
		t.Fatalf("expected activated, got %s", rt.State())
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	rt.Registry().MustRegister(EventPush, func(context.Context, *Event) error {
		panic("bad payload")
	})

	err := rt.Dispatch(context.Background(), &Event{Kind: EventPush, Data: "x"})
	if err == nil {
		t.Fatalf("expected panic to become error")
	}
}

func TestHandlerPanicRaisesErrorEvent(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	var reported []error
	rt.Registry().MustRegister(EventFetch, func(context.Context, *Event) error {
		panic("nil cache entry")
	})
	rt.Registry().MustRegister(EventError, func(_ context.Context, ev *Event) error {
		reported = append(reported, ev.Err)
		panic("error handler broke too")
	})

	err := rt.Dispatch(context.Background(), &Event{Kind: EventFetch, Request: proxy.NewRequest("/", "")})
	if err == nil {
		t.Fatalf("expected panic to become error")
	}
	if len(reported) != 1 || !errors.Is(reported[0], err) {
		t.Fatalf("expected one error event carrying the panic, got %v", reported)
	}
}

func TestDispatchIgnoresUnregisteredKinds(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	if err := rt.Dispatch(context.Background(), &Event{Kind: EventSync}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rt.Dispatch(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil event")
	}
}

func TestInterceptRequiresResponse(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	if _, err := rt.Intercept(context.Background(), proxy.NewRequest("/", "")); err == nil {
		t.Fatalf("expected error without fetch handler")
	}
}

func TestReportErrorDispatchesErrorEvent(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	var got error
	rt.Registry().MustRegister(EventError, func(_ context.Context, ev *Event) error {
		got = ev.Err
		return nil
	})
	want := errors.New("script error")
	rt.ReportError(context.Background(), want)
	if !errors.Is(got, want) {
		t.Fatalf("expected error event, got %v", got)
	}
}

func TestMaintenanceRunsOnSchedule(t *testing.T) {
	sched := &manualScheduler{}
	runs := 0
	rt := newTestRuntime(t, Options{
		Scheduler: sched,
		Interval:  24 * time.Hour,
		Maintenance: func(context.Context) error {
			runs++
			return nil
		},
	})

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sched.interval != 24*time.Hour {
		t.Fatalf("expected 24h interval, got %s", sched.interval)
	}
	sched.fire()
	sched.fire()
	if runs != 2 {
		t.Fatalf("expected 2 runs, got %d", runs)
	}

	rt.Shutdown()
	if !sched.stopped {
		t.Fatalf("shutdown should stop the scheduler")
	}
	if rt.State() != StateRedundant {
		t.Fatalf("expected redundant after shutdown, got %s", rt.State())
	}
}

func TestTickerSchedulerStops(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	stop := TickerScheduler{}.Every(5*time.Millisecond, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ticker never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()
	stop()
}

type manualScheduler struct {
	interval time.Duration
	fn       func()
	stopped  bool
}

func (m *manualScheduler) Every(interval time.Duration, fn func()) func() {
	m.interval = interval
	m.fn = fn
	return func() { m.stopped = true }
}

func (m *manualScheduler) fire() {
	if m.fn != nil {
		m.fn()
	}
}

func newTestRuntime(t *testing.T, opts Options) *Runtime {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts.Logger = logger
	rt, err := NewRuntime(opts)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return rt
}
