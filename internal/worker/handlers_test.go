package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/langlearner/offline-cache/internal/cache"
	"github.com/langlearner/offline-cache/internal/notify"
	"github.com/langlearner/offline-cache/internal/proxy"
)

type fakeProxy struct {
	installErr  error
	activateErr error
	claimed     bool
	installs    int
	activations int
	cachedURLs  []string
	cleared     int
	fetched     []string
}

func (f *fakeProxy) Install(context.Context) error {
	f.installs++
	return f.installErr
}

func (f *fakeProxy) Activate(context.Context) ([]string, error) {
	f.activations++
	return []string{"language-learner-v0.9.0"}, f.activateErr
}

func (f *fakeProxy) Claim() { f.claimed = true }

func (f *fakeProxy) Fetch(_ context.Context, req proxy.Request) proxy.Result {
	f.fetched = append(f.fetched, req.Path)
	return proxy.Result{
		Response: &cache.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("ok")},
		Policy:   "default",
	}
}

func (f *fakeProxy) CacheURL(_ context.Context, rawURL string) error {
	if rawURL == "" {
		return errors.New("url is required")
	}
	f.cachedURLs = append(f.cachedURLs, rawURL)
	return nil
}

func (f *fakeProxy) ClearCache(context.Context) error {
	f.cleared++
	return nil
}

type fakeSyncer struct {
	calls int
	err   error
}

func (f *fakeSyncer) SyncRecordings(context.Context) (int, error) {
	f.calls++
	return 1, f.err
}

type handlerEnv struct {
	rt       *Runtime
	proxy    *fakeProxy
	syncer   *fakeSyncer
	recorder *notify.Recorder
}

func newHandlerEnv(t *testing.T, skipWaiting, claim bool) *handlerEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	rt, err := NewRuntime(Options{Logger: logger})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	env := &handlerEnv{
		rt:       rt,
		proxy:    &fakeProxy{},
		syncer:   &fakeSyncer{},
		recorder: notify.NewRecorder(logger, 10),
	}
	err = RegisterDefaults(rt, Dependencies{
		Proxy:    env.proxy,
		Notifier: env.recorder,
		Template: notify.Template{
			Title:      "언어 학습기",
			Icon:       "/manifest.json",
			Badge:      "/manifest.json",
			ExploreURL: "/scene1.html",
			DefaultURL: "/",
		},
		Syncer:       env.syncer,
		Logger:       logger,
		SkipWaiting:  skipWaiting,
		ClaimClients: claim,
		Now:          func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	return env
}

func TestDefaultLifecycleInstallsActivatesAndClaims(t *testing.T) {
	env := newHandlerEnv(t, true, true)
	env.proxy.installErr = errors.New("precache failed")

	if err := env.rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if env.rt.State() != StateActivated {
		t.Fatalf("expected activated despite precache failure, got %s", env.rt.State())
	}
	if env.proxy.installs != 1 || env.proxy.activations != 1 || !env.proxy.claimed {
		t.Fatalf("unexpected proxy calls: %+v", env.proxy)
	}
}

func TestDefaultLifecycleWaitsForSkipWaitingMessage(t *testing.T) {
	env := newHandlerEnv(t, false, true)
	if err := env.rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if env.rt.State() != StateInstalled {
		t.Fatalf("expected installed, got %s", env.rt.State())
	}

	err := env.rt.Dispatch(context.Background(), &Event{Kind: EventMessage, Message: Message{Type: MessageSkipWaiting}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if env.rt.State() != StateActivated || !env.proxy.claimed {
		t.Fatalf("expected activation after SKIP_WAITING, state=%s", env.rt.State())
	}
}

func TestFetchHandlerFillsResponse(t *testing.T) {
	env := newHandlerEnv(t, true, true)
	result, err := env.rt.Intercept(context.Background(), proxy.NewRequest("/scene1.html", ""))
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if string(result.Response.Body) != "ok" || len(env.proxy.fetched) != 1 {
		t.Fatalf("unexpected fetch result: %+v", result)
	}
}

func TestMessageHandlers(t *testing.T) {
	env := newHandlerEnv(t, true, true)
	ctx := context.Background()

	if err := env.rt.Dispatch(ctx, &Event{Kind: EventMessage, Message: Message{Type: MessageCacheAudio, URL: "/audio/a.mp3"}}); err != nil {
		t.Fatalf("cache audio: %v", err)
	}
	if len(env.proxy.cachedURLs) != 1 || env.proxy.cachedURLs[0] != "/audio/a.mp3" {
		t.Fatalf("unexpected cached urls: %v", env.proxy.cachedURLs)
	}
	if err := env.rt.Dispatch(ctx, &Event{Kind: EventMessage, Message: Message{Type: MessageCacheAudio}}); err == nil {
		t.Fatalf("expected CACHE_AUDIO without url to fail")
	}
	if err := env.rt.Dispatch(ctx, &Event{Kind: EventMessage, Message: Message{Type: MessageClearCache}}); err != nil {
		t.Fatalf("clear cache: %v", err)
	}
	if env.proxy.cleared != 1 {
		t.Fatalf("expected one clear, got %d", env.proxy.cleared)
	}
	if err := env.rt.Dispatch(ctx, &Event{Kind: EventMessage, Message: Message{Type: "UNKNOWN"}}); err != nil {
		t.Fatalf("unknown message should be ignored: %v", err)
	}
}

func TestPushHandlerShowsNotification(t *testing.T) {
	env := newHandlerEnv(t, true, true)
	ev := &Event{Kind: EventPush, Data: "새 단어가 추가되었습니다"}
	if err := env.rt.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("push: %v", err)
	}
	if ev.Notification == nil || ev.Notification.Body != "새 단어가 추가되었습니다" {
		t.Fatalf("expected notification on event, got %+v", ev.Notification)
	}
	if ev.Notification.Data.DateOfArrival != time.Unix(1700000000, 0).UnixMilli() {
		t.Fatalf("unexpected arrival time: %d", ev.Notification.Data.DateOfArrival)
	}
	if len(env.recorder.Recent()) != 1 {
		t.Fatalf("expected recorder to keep the notification")
	}

	empty := &Event{Kind: EventPush}
	if err := env.rt.Dispatch(context.Background(), empty); err != nil {
		t.Fatalf("empty push: %v", err)
	}
	if empty.Notification != nil || len(env.recorder.Recent()) != 1 {
		t.Fatalf("empty push should be ignored")
	}
}

func TestNotificationClickRouting(t *testing.T) {
	env := newHandlerEnv(t, true, true)
	cases := map[string]string{
		"explore": "/scene1.html",
		"close":   "",
		"":        "/",
	}
	for action, want := range cases {
		ev := &Event{Kind: EventNotificationClick, Action: action}
		if err := env.rt.Dispatch(context.Background(), ev); err != nil {
			t.Fatalf("click %q: %v", action, err)
		}
		if ev.Navigate != want {
			t.Fatalf("click %q navigated to %q, want %q", action, ev.Navigate, want)
		}
	}
}

func TestSyncHandlersFilterTags(t *testing.T) {
	env := newHandlerEnv(t, true, true)
	ctx := context.Background()

	events := []*Event{
		{Kind: EventSync, Tag: "background-sync"},
		{Kind: EventPeriodicSync, Tag: "content-sync"},
		{Kind: EventSync, Tag: "content-sync"},
		{Kind: EventPeriodicSync, Tag: "other"},
	}
	for _, ev := range events {
		if err := env.rt.Dispatch(ctx, ev); err != nil {
			t.Fatalf("sync %s/%s: %v", ev.Kind, ev.Tag, err)
		}
	}
	if env.syncer.calls != 2 {
		t.Fatalf("expected 2 sync runs, got %d", env.syncer.calls)
	}

	env.syncer.err = errors.New("remote down")
	if err := env.rt.Dispatch(ctx, &Event{Kind: EventSync, Tag: "background-sync"}); err != nil {
		t.Fatalf("sync errors should be swallowed, got %v", err)
	}
}

func TestRegisterDefaultsValidates(t *testing.T) {
	logger := logrus.New()
	rt, _ := NewRuntime(Options{Logger: logger})
	if err := RegisterDefaults(nil, Dependencies{}); err == nil {
		t.Fatalf("expected error without runtime")
	}
	if err := RegisterDefaults(rt, Dependencies{Logger: logger}); err == nil {
		t.Fatalf("expected error without proxy")
	}
	if err := RegisterDefaults(rt, Dependencies{Proxy: &fakeProxy{}}); err == nil {
		t.Fatalf("expected error without logger")
	}
}
