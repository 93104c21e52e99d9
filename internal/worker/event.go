package worker

import (
	"github.com/langlearner/offline-cache/internal/notify"
	"github.com/langlearner/offline-cache/internal/proxy"
)

// EventKind 标识一类 worker 事件。
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
	EventSync              EventKind = "sync"
	EventPeriodicSync      EventKind = "periodicsync"
	EventMessage           EventKind = "message"
	EventError             EventKind = "error"
)

// Kinds 返回全部事件类型，顺序与生命周期一致。
func Kinds() []EventKind {
	return []EventKind{
		EventInstall,
		EventActivate,
		EventFetch,
		EventPush,
		EventNotificationClick,
		EventSync,
		EventPeriodicSync,
		EventMessage,
		EventError,
	}
}

func knownKind(kind EventKind) bool {
	for _, k := range Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageCacheAudio  = "CACHE_AUDIO"
	MessageClearCache  = "CLEAR_CACHE"
)

// Message 是页面通过 postMessage 发来的控制消息。
type Message struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Event 是一次分发的输入与输出。输入字段按 Kind 取用，
// handler 把结果写回 Response / Navigate / Notification。
type Event struct {
	Kind EventKind

	Request proxy.Request // fetch
	Data    string        // push
	Action  string        // notificationclick
	Tag     string        // sync, periodicsync
	Message Message       // message
	Err     error         // error

	Response     *proxy.Result
	Navigate     string
	Notification *notify.Notification
}
