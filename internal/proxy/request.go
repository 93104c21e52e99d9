package proxy

import (
	"net/http"
	"strings"

	"github.com/langlearner/offline-cache/internal/cache"
)

// Request 是被拦截请求的宿主无关表示，Fiber handler 与 worker 事件共用。
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// NewRequest 构造一个不带请求头的 GET 请求，供预缓存与 CACHE_AUDIO 使用。
func NewRequest(path, rawQuery string) Request {
	return Request{
		Method:   http.MethodGet,
		Path:     path,
		RawQuery: rawQuery,
		Header:   http.Header{},
	}
}

// Key 返回请求在缓存中的标识。
func (r Request) Key() cache.Key {
	return cache.NewKey(r.Method, r.Path, r.RawQuery)
}

// Storable 只有 GET 请求可以写入或匹配缓存。
func (r Request) Storable() bool {
	return r.Key().Method == http.MethodGet
}

// IsDocument 判断请求目标是否为页面导航（Request.destination === "document"）。
// 优先读取 Sec-Fetch-Dest；旧客户端没有该头时，退回 Sec-Fetch-Mode 与 Accept 判断。
func (r Request) IsDocument() bool {
	if r.Header == nil {
		return false
	}
	if dest := strings.ToLower(strings.TrimSpace(r.Header.Get("Sec-Fetch-Dest"))); dest != "" {
		return dest == "document"
	}
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	if r.Key().Method != http.MethodGet {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/html")
}
