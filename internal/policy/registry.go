package policy

import (
	"fmt"
	"strings"
	"sync"
)

// Registry 保存按注册顺序排列的策略，Select 时先匹配带 Matcher 的策略，最后回退兜底策略。
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Metadata
	ordered  []string
	fallback string
}

// New 创建空注册表。
func New() *Registry {
	return &Registry{policies: make(map[string]Metadata)}
}

// Register 将策略加入注册表，重复键或重复兜底策略会返回错误。
func (r *Registry) Register(meta Metadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("policy key is required")
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[key]; exists {
		return fmt.Errorf("policy %s already registered", key)
	}
	if meta.Match == nil {
		if r.fallback != "" {
			return fmt.Errorf("fallback policy already registered: %s", r.fallback)
		}
		r.fallback = key
	}
	r.policies[key] = meta
	r.ordered = append(r.ordered, key)
	return nil
}

// MustRegister 在注册失败时 panic，适合启动阶段调用。
func (r *Registry) MustRegister(meta Metadata) {
	if err := r.Register(meta); err != nil {
		panic(err)
	}
}

// Select 根据请求路径挑选策略；没有任何匹配且未注册兜底策略时返回 false。
func (r *Registry) Select(path string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, key := range r.ordered {
		meta := r.policies[key]
		if meta.Match != nil && meta.Match(path) {
			return meta, true
		}
	}
	if r.fallback == "" {
		return Metadata{}, false
	}
	return r.policies[r.fallback], true
}

// List 按注册顺序返回全部策略，供诊断接口输出。
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Metadata, 0, len(r.ordered))
	for _, key := range r.ordered {
		result = append(result, r.policies[key])
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
