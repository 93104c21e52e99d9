package notify

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testTemplate() Template {
	return Template{
		Title:      "언어 학습기",
		Icon:       "/manifest.json",
		Badge:      "/manifest.json",
		ExploreURL: "/scene1.html",
		DefaultURL: "/",
	}
}

func TestBuildUsesPayloadAsBody(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	n, ok := testTemplate().Build("오늘의 학습을 시작하세요", now)
	if !ok {
		t.Fatalf("expected notification")
	}
	if n.Title != "언어 학습기" || n.Body != "오늘의 학습을 시작하세요" {
		t.Fatalf("unexpected title/body: %+v", n)
	}
	if n.Icon != "/manifest.json" || n.Badge != "/manifest.json" {
		t.Fatalf("unexpected icon/badge: %+v", n)
	}
	if len(n.Vibrate) != 3 || n.Vibrate[0] != 100 || n.Vibrate[1] != 50 || n.Vibrate[2] != 100 {
		t.Fatalf("unexpected vibrate pattern: %v", n.Vibrate)
	}
	if n.Data.PrimaryKey != 1 || n.Data.DateOfArrival != now.UnixMilli() {
		t.Fatalf("unexpected data: %+v", n.Data)
	}
	if len(n.Actions) != 2 || n.Actions[0].Action != ActionExplore || n.Actions[1].Action != ActionClose {
		t.Fatalf("unexpected actions: %+v", n.Actions)
	}
	if n.ID == "" {
		t.Fatalf("expected notification id")
	}
}

func TestBuildIgnoresEmptyPayload(t *testing.T) {
	if _, ok := testTemplate().Build("", time.Now()); ok {
		t.Fatalf("empty payload should not produce a notification")
	}
}

func TestRouteClick(t *testing.T) {
	tpl := testTemplate()
	cases := []struct {
		action string
		url    string
		open   bool
	}{
		{ActionExplore, "/scene1.html", true},
		{ActionClose, "", false},
		{"", "/", true},
		{"something-else", "/", true},
	}
	for _, tc := range cases {
		url, open := tpl.RouteClick(tc.action)
		if url != tc.url || open != tc.open {
			t.Fatalf("RouteClick(%q) = (%q, %v), want (%q, %v)", tc.action, url, open, tc.url, tc.open)
		}
	}
}

func TestRecorderKeepsMostRecent(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := NewRecorder(logger, 2)

	for i := 0; i < 3; i++ {
		n, _ := testTemplate().Build(fmt.Sprintf("msg-%d", i), time.Now())
		if err := r.Show(context.Background(), n); err != nil {
			t.Fatalf("show: %v", err)
		}
	}

	recent := r.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(recent))
	}
	if recent[0].Body != "msg-2" || recent[1].Body != "msg-1" {
		t.Fatalf("unexpected order: %s, %s", recent[0].Body, recent[1].Body)
	}
}
