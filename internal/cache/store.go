package cache

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"
)

// Storage 管理全部具名缓存，对应浏览器中的 CacheStorage。缓存名即版本号，
// 同一时刻只有与当前版本相同的缓存被视为有效，其余均可整体删除。
type Storage interface {
	// Open 打开具名缓存，不存在时自动创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 判断具名缓存是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个具名缓存，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 按名称排序返回所有缓存名。
	Keys(ctx context.Context) ([]string, error)

	// Match 依次在所有缓存中查找请求，返回第一个命中的响应；未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)
}

// Cache 是单个具名缓存，保存 请求标识 → 响应 的映射。
type Cache interface {
	Name() string

	// Match 返回缓存的响应副本。若不存在则返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 写入（或整体替换）一个条目。实现需保证同一 Key 的写入原子可见。
	Put(ctx context.Context, key Key, resp *Response) error

	// Remove 删除单个条目，条目不存在时不报错。
	Remove(ctx context.Context, key Key) error

	// Keys 返回当前缓存内全部条目的请求标识。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 唯一定位一个缓存条目：请求方法 + 清理后的 URL 路径 + 原始查询串。
type Key struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	RawQuery string `json:"query,omitempty"`
}

// NewKey 规范化请求标识：方法统一大写，路径做 path.Clean 并保留结尾斜杠。
func NewKey(method, rawPath, rawQuery string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Key{
		Method:   method,
		Path:     cleanPath(rawPath),
		RawQuery: strings.TrimPrefix(rawQuery, "?"),
	}
}

// String 输出 METHOD path?query 形式，便于日志与诊断。
func (k Key) String() string {
	if k.RawQuery == "" {
		return k.Method + " " + k.Path
	}
	return k.Method + " " + k.Path + "?" + k.RawQuery
}

func cleanPath(raw string) string {
	if raw == "" {
		return "/"
	}
	trailing := strings.HasSuffix(raw, "/")
	clean := path.Clean("/" + raw)
	if trailing && clean != "/" {
		clean += "/"
	}
	return clean
}

// ResponseType 对应 Fetch 规范中的 Response.type。
type ResponseType string

const (
	// TypeBasic 表示同源响应（重定向后仍位于上游同一 Host）。
	TypeBasic ResponseType = "basic"
	// TypeCORS 表示跨域响应，例如上游重定向到了其他 Host。
	TypeCORS ResponseType = "cors"
	// TypeDefault 表示本地合成的响应（离线 503 等）。
	TypeDefault ResponseType = "default"
)

// Response 是缓存条目的内存形态，也是代理层在网络与缓存之间传递的统一结构。
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Type     ResponseType
	URL      string
	StoredAt time.Time
}

// OK 对应 Response.ok：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Cacheable 对应 Cache.put 的限制：必须是 2xx，且不能是 206 部分内容。
func (r *Response) Cacheable() bool {
	return r.OK() && r.Status != http.StatusPartialContent
}

// Clone 深拷贝响应，写入缓存与返回调用方的副本互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	cloned.Body = append([]byte(nil), r.Body...)
	return &cloned
}

// ErrNotFound 表示缓存条目（或具名缓存）不存在。
var ErrNotFound = errors.New("cache entry not found")
