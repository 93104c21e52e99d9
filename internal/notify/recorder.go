package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Recorder 是默认 Notifier：记录日志并保留最近的若干条通知。
type Recorder struct {
	logger *logrus.Logger
	keep   int

	mu     sync.Mutex
	recent []Notification
}

// NewRecorder 创建 Recorder，keep<=0 时只记录日志不保留。
func NewRecorder(logger *logrus.Logger, keep int) *Recorder {
	return &Recorder{logger: logger, keep: keep}
}

// Show implements Notifier.
func (r *Recorder) Show(_ context.Context, n Notification) error {
	r.logger.WithFields(logrus.Fields{
		"action":          "push",
		"notification_id": n.ID,
		"title":           n.Title,
		"body":            n.Body,
	}).Info("notification_shown")

	if r.keep <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, n)
	if over := len(r.recent) - r.keep; over > 0 {
		r.recent = append([]Notification(nil), r.recent[over:]...)
	}
	return nil
}

// Recent 返回最近的通知，按到达顺序由新到旧。
func (r *Recorder) Recent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, 0, len(r.recent))
	for i := len(r.recent) - 1; i >= 0; i-- {
		out = append(out, r.recent[i])
	}
	return out
}
