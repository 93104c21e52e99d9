// Package notify turns push payloads into notifications and routes clicks on
// them back to in-app pages.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ActionExplore 打开学习页面。
	ActionExplore = "explore"
	// ActionClose 仅关闭通知。
	ActionClose = "close"
)

// Action 是通知上的按钮。
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Data 附带在通知上的业务字段。
type Data struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

// Notification 是一次待展示的通知。
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon"`
	Badge     string    `json:"badge"`
	Vibrate   []int     `json:"vibrate"`
	Data      Data      `json:"data"`
	Actions   []Action  `json:"actions"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier 负责真正展示通知。
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// Template 描述通知外观与点击跳转目标。
type Template struct {
	Title      string
	Icon       string
	Badge      string
	ExploreURL string
	DefaultURL string
}

// Build 用 push 载荷生成通知；载荷为空时返回 false，调用方应忽略该 push。
func (t Template) Build(payload string, now time.Time) (Notification, bool) {
	if payload == "" {
		return Notification{}, false
	}
	return Notification{
		ID:      uuid.NewString(),
		Title:   t.Title,
		Body:    payload,
		Icon:    t.Icon,
		Badge:   t.Badge,
		Vibrate: []int{100, 50, 100},
		Data: Data{
			DateOfArrival: now.UnixMilli(),
			PrimaryKey:    1,
		},
		Actions: []Action{
			{Action: ActionExplore, Title: "학습하기", Icon: t.Icon},
			{Action: ActionClose, Title: "닫기"},
		},
		CreatedAt: now.UTC(),
	}, true
}

// RouteClick 决定点击后打开的页面；close 不打开任何页面。
func (t Template) RouteClick(action string) (string, bool) {
	switch strings.TrimSpace(action) {
	case ActionExplore:
		return t.ExploreURL, true
	case ActionClose:
		return "", false
	default:
		return t.DefaultURL, true
	}
}
