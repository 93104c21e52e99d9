package policy

import (
	"net/http"

	"github.com/langlearner/offline-cache/internal/cache"
)

// Mode 描述命中/未命中时的读取顺序。
type Mode string

const (
	// ModeCacheFirst 命中直接返回，未命中回源。
	ModeCacheFirst Mode = "cache-first"
	// ModeStaleWhileRevalidate 命中直接返回，同时在后台回源刷新条目。
	ModeStaleWhileRevalidate Mode = "stale-while-revalidate"
)

// StoreRule 决定未命中回源后的响应是否写入缓存。
type StoreRule string

const (
	// StoreRuleOK 任意 2xx 响应均写缓存（206 部分内容除外）。
	StoreRuleOK StoreRule = "ok"
	// StoreRuleBasic200 仅同源（basic）且状态码恰为 200 的响应写缓存。
	StoreRuleBasic200 StoreRule = "basic-200"
)

// Matcher 判断请求路径是否归属某个策略。
type Matcher func(path string) bool

// Metadata 记录一个策略的静态信息，供代理层执行与诊断端展示。
type Metadata struct {
	Key         string
	Description string
	Mode        Mode
	StoreRule   StoreRule
	// OfflineBody 是网络失败时合成 503 的正文。
	OfflineBody string
	// DocumentFallback 为 true 时，文档请求在网络失败后改用缓存中的默认页面。
	DocumentFallback bool
	// Match 为空表示兜底策略，只在其他策略都不匹配时使用。
	Match Matcher
}

// ShouldStore 按 StoreRule 判断未命中回源得到的响应能否写入缓存。
func (m Metadata) ShouldStore(resp *cache.Response) bool {
	if resp == nil {
		return false
	}
	switch m.StoreRule {
	case StoreRuleBasic200:
		return resp.Status == http.StatusOK && resp.Type == cache.TypeBasic
	default:
		return resp.Cacheable()
	}
}

// Revalidates 返回命中时是否需要后台刷新。
func (m Metadata) Revalidates() bool {
	return m.Mode == ModeStaleWhileRevalidate
}
