package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/langlearner/offline-cache/internal/cache"
	"github.com/langlearner/offline-cache/internal/policy"
	"github.com/langlearner/offline-cache/internal/telemetry"
)

// Options 汇总构造 CacheProxy 所需的依赖与静态配置。
type Options struct {
	// Origin 是被代理的静态站点地址，所有站内路径都相对它解析。
	Origin *url.URL
	// CacheName 是当前版本的缓存名；CachePrefix 用于周期清理时识别本应用的旧缓存。
	CacheName   string
	CachePrefix string
	// Precache 是安装阶段整体写入的站内路径清单。
	Precache []string
	// FallbackPage 是文档请求离线时的兜底页面。
	FallbackPage string

	Policies *policy.Registry
	Client   *http.Client
	Storage  cache.Storage
	Logger   *logrus.Logger
	Metrics  *telemetry.Metrics
}

// CacheProxy 位于应用请求与网络之间，负责版本化缓存的生命周期与逐请求缓存策略。
type CacheProxy struct {
	origin       *url.URL
	cacheName    string
	cachePrefix  string
	precache     []string
	fallbackPage string

	policies *policy.Registry
	client   *http.Client
	storage  cache.Storage
	logger   *logrus.Logger
	metrics  *telemetry.Metrics

	claimed    atomic.Bool
	background sync.WaitGroup
}

// Result 是一次 fetch 拦截的结果。Response 永远非空，调用方不会看到被拒绝的请求。
type Result struct {
	Response *cache.Response
	Policy   string
	Source   telemetry.Source
	CacheHit bool
}

// Status 汇总缓存状态，供 /-/status 输出。
type Status struct {
	CacheName string   `json:"cache_name"`
	Caches    []string `json:"caches"`
	Entries   int      `json:"entries"`
	Claimed   bool     `json:"claimed"`
}

// New 校验依赖并构造 CacheProxy。
func New(opts Options) (*CacheProxy, error) {
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, errors.New("origin is required")
	}
	if opts.CacheName == "" {
		return nil, errors.New("cache name is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Policies == nil {
		opts.Policies = policy.Builtin("/audio/")
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetrics(false, "")
	}
	if opts.FallbackPage == "" {
		opts.FallbackPage = "/"
	}

	return &CacheProxy{
		origin:       opts.Origin,
		cacheName:    opts.CacheName,
		cachePrefix:  opts.CachePrefix,
		precache:     append([]string(nil), opts.Precache...),
		fallbackPage: opts.FallbackPage,
		policies:     opts.Policies,
		client:       opts.Client,
		storage:      opts.Storage,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}, nil
}

// CacheName 返回当前版本的缓存名。
func (p *CacheProxy) CacheName() string {
	return p.cacheName
}

// Policies 返回策略注册表，供诊断接口输出。
func (p *CacheProxy) Policies() *policy.Registry {
	return p.policies
}

// Install 打开当前版本缓存并整体写入预缓存清单。任一路径失败（网络错误、非 2xx 或 206）
// 都不会写入任何条目；错误返回给调用方记录，不影响 worker 进入 installed。
func (p *CacheProxy) Install(ctx context.Context) error {
	c, err := p.storage.Open(ctx, p.cacheName)
	if err != nil {
		return fmt.Errorf("open cache %s: %w", p.cacheName, err)
	}
	p.logger.WithFields(logrus.Fields{
		"action": "install",
		"cache":  p.cacheName,
		"paths":  len(p.precache),
	}).Info("cache_opened")

	requests := make([]Request, len(p.precache))
	for i, raw := range p.precache {
		req, err := p.requestForURL(raw)
		if err != nil {
			return err
		}
		requests[i] = req
	}

	responses := make([]*cache.Response, len(requests))
	group, groupCtx := errgroup.WithContext(ctx)
	for i := range requests {
		i := i
		group.Go(func() error {
			resp, err := p.network(groupCtx, requests[i])
			if err != nil {
				return fmt.Errorf("fetch %s: %w", requests[i].Path, err)
			}
			if !resp.Cacheable() {
				return fmt.Errorf("fetch %s: %w (status %d)", requests[i].Path, ErrNotOK, resp.Status)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, req := range requests {
		if err := c.Put(ctx, req.Key(), responses[i]); err != nil {
			return fmt.Errorf("store %s: %w", req.Path, err)
		}
	}
	p.metrics.RecordCacheWrite("install", len(requests))
	return nil
}

// Activate 删除所有名称与当前版本不同的缓存，返回被删除的缓存名。
func (p *CacheProxy) Activate(ctx context.Context) ([]string, error) {
	return p.deleteCaches(ctx, "activate", func(name string) bool {
		return name != p.cacheName
	})
}

// CleanOldCaches 删除名称带本应用前缀但不是当前版本的缓存，作为激活清理之外的兜底。
func (p *CacheProxy) CleanOldCaches(ctx context.Context) ([]string, error) {
	return p.deleteCaches(ctx, "periodic_cleanup", func(name string) bool {
		return strings.HasPrefix(name, p.cachePrefix) && name != p.cacheName
	})
}

func (p *CacheProxy) deleteCaches(ctx context.Context, reason string, stale func(string) bool) ([]string, error) {
	names, err := p.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}

	var deleted []string
	var errs []error
	for _, name := range names {
		if !stale(name) {
			continue
		}
		p.logger.WithFields(logrus.Fields{
			"action": reason,
			"cache":  name,
		}).Info("deleting_old_cache")
		ok, err := p.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
			continue
		}
		if ok {
			deleted = append(deleted, name)
			p.metrics.RecordCacheDeletion(reason)
		}
	}
	return deleted, errors.Join(errs...)
}

// Claim 开始接管客户端请求；未 claim 前所有请求直接透传到网络。
func (p *CacheProxy) Claim() {
	p.claimed.Store(true)
}

// Claimed 返回是否已经接管客户端。
func (p *CacheProxy) Claimed() bool {
	return p.claimed.Load()
}

// Fetch 按路径选择策略处理一次拦截请求，始终返回一个可交付的响应。
func (p *CacheProxy) Fetch(ctx context.Context, req Request) Result {
	meta, ok := p.policies.Select(req.Key().Path)
	if !ok {
		meta = policy.Metadata{Key: "none", OfflineBody: policy.ResourceOfflineBody}
	}

	var result Result
	switch {
	case !p.Claimed():
		result = p.passthrough(ctx, req, meta)
	case meta.Mode == policy.ModeCacheFirst:
		result = p.cacheFirst(ctx, req, meta)
	default:
		result = p.staleWhileRevalidate(ctx, req, meta)
	}
	result.Policy = meta.Key
	p.metrics.RecordFetch(meta.Key, result.Source)
	return result
}

func (p *CacheProxy) passthrough(ctx context.Context, req Request, meta policy.Metadata) Result {
	resp, err := p.network(ctx, req)
	if err != nil {
		p.logFetchError(req, meta, err)
		return Result{Response: offlineResponse(meta.OfflineBody), Source: telemetry.SourceOffline}
	}
	return Result{Response: resp, Source: telemetry.SourcePassthrough}
}

// cacheFirst 只查当前版本缓存；未命中回源，2xx 写缓存，网络失败合成 503。
func (p *CacheProxy) cacheFirst(ctx context.Context, req Request, meta policy.Metadata) Result {
	c, err := p.storage.Open(ctx, p.cacheName)
	if err != nil {
		p.logger.WithError(err).WithField("cache", p.cacheName).Warn("cache_open_failed")
	}

	if c != nil && req.Storable() {
		cached, err := c.Match(ctx, req.Key())
		switch {
		case err == nil:
			p.logger.WithFields(logrus.Fields{"action": "fetch", "path": req.Path}).Debug("serving_audio_from_cache")
			return Result{Response: cached, Source: telemetry.SourceCache, CacheHit: true}
		case !errors.Is(err, cache.ErrNotFound):
			p.logger.WithError(err).WithField("path", req.Path).Warn("cache_match_failed")
		}
	}

	resp, err := p.network(ctx, req)
	if err != nil {
		p.logFetchError(req, meta, err)
		return Result{Response: offlineResponse(meta.OfflineBody), Source: telemetry.SourceOffline}
	}
	if c != nil && req.Storable() && meta.ShouldStore(resp) {
		p.store(ctx, c, req, resp, "fetch")
	}
	return Result{Response: resp, Source: telemetry.SourceNetwork}
}

// staleWhileRevalidate 在全部缓存中查找；命中立即返回并后台刷新，未命中回源后按策略写缓存。
func (p *CacheProxy) staleWhileRevalidate(ctx context.Context, req Request, meta policy.Metadata) Result {
	if req.Storable() {
		cached, err := p.storage.Match(ctx, req.Key())
		switch {
		case err == nil:
			if meta.Revalidates() {
				p.revalidate(ctx, req)
			}
			return Result{Response: cached, Source: telemetry.SourceCache, CacheHit: true}
		case !errors.Is(err, cache.ErrNotFound):
			p.logger.WithError(err).WithField("path", req.Path).Warn("cache_match_failed")
		}
	}

	resp, err := p.network(ctx, req)
	if err != nil {
		p.logFetchError(req, meta, err)
		if meta.DocumentFallback && req.IsDocument() {
			if fallback, ok := p.fallbackDocument(ctx); ok {
				return Result{Response: fallback, Source: telemetry.SourceFallback, CacheHit: true}
			}
		}
		return Result{Response: offlineResponse(meta.OfflineBody), Source: telemetry.SourceOffline}
	}

	if req.Storable() && meta.ShouldStore(resp) {
		if c, err := p.storage.Open(ctx, p.cacheName); err == nil {
			p.store(ctx, c, req, resp, "fetch")
		} else {
			p.logger.WithError(err).WithField("cache", p.cacheName).Warn("cache_open_failed")
		}
	}
	return Result{Response: resp, Source: telemetry.SourceNetwork}
}

// revalidate 启动与调用方解耦的后台刷新；失败只记录 debug 日志，不影响已返回的缓存响应。
func (p *CacheProxy) revalidate(ctx context.Context, req Request) {
	detached := context.WithoutCancel(ctx)
	req.Header = req.Header.Clone()
	if req.Header != nil {
		// 刷新总是取完整资源，避免部分内容覆盖整条缓存。
		req.Header.Del("Range")
		req.Header.Del("If-Range")
	}
	req.Body = append([]byte(nil), req.Body...)

	p.background.Add(1)
	go func() {
		defer p.background.Done()

		resp, err := p.network(detached, req)
		if err != nil {
			p.metrics.RecordRevalidate("network_error")
			p.logger.WithError(err).WithFields(logrus.Fields{
				"action": "revalidate",
				"path":   req.Path,
			}).Debug("revalidate_failed")
			return
		}
		if !resp.Cacheable() {
			p.metrics.RecordRevalidate("not_ok")
			return
		}
		c, err := p.storage.Open(detached, p.cacheName)
		if err != nil {
			p.metrics.RecordRevalidate("store_error")
			p.logger.WithError(err).WithField("cache", p.cacheName).Debug("revalidate_open_failed")
			return
		}
		if err := c.Put(detached, req.Key(), resp.Clone()); err != nil {
			p.metrics.RecordRevalidate("store_error")
			p.logger.WithError(err).WithField("path", req.Path).Debug("revalidate_store_failed")
			return
		}
		p.metrics.RecordRevalidate("updated")
		p.metrics.RecordCacheWrite("revalidate", 1)
	}()
}

func (p *CacheProxy) fallbackDocument(ctx context.Context) (*cache.Response, bool) {
	fallback, err := p.requestForURL(p.fallbackPage)
	if err != nil {
		return nil, false
	}
	resp, err := p.storage.Match(ctx, fallback.Key())
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			p.logger.WithError(err).WithField("path", p.fallbackPage).Warn("fallback_match_failed")
		}
		return nil, false
	}
	return resp, true
}

func (p *CacheProxy) store(ctx context.Context, c cache.Cache, req Request, resp *cache.Response, reason string) {
	if err := c.Put(ctx, req.Key(), resp.Clone()); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_put",
			"cache":  c.Name(),
			"path":   req.Path,
		}).Warn("cache_put_failed")
		return
	}
	p.metrics.RecordCacheWrite(reason, 1)
}

func (p *CacheProxy) logFetchError(req Request, meta policy.Metadata, err error) {
	p.logger.WithError(err).WithFields(logrus.Fields{
		"action": "fetch",
		"policy": meta.Key,
		"method": req.Method,
		"path":   req.Path,
	}).Error("fetch_failed")
}

// CacheURL 对应 cache.add：回源获取单个站内 URL，只有完整的 2xx 才写入当前缓存。
func (p *CacheProxy) CacheURL(ctx context.Context, rawURL string) error {
	req, err := p.requestForURL(rawURL)
	if err != nil {
		return err
	}
	c, err := p.storage.Open(ctx, p.cacheName)
	if err != nil {
		return fmt.Errorf("open cache %s: %w", p.cacheName, err)
	}
	resp, err := p.network(ctx, req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", req.Path, err)
	}
	if !resp.Cacheable() {
		return fmt.Errorf("fetch %s: %w (status %d)", req.Path, ErrNotOK, resp.Status)
	}
	if err := c.Put(ctx, req.Key(), resp); err != nil {
		return fmt.Errorf("store %s: %w", req.Path, err)
	}
	p.metrics.RecordCacheWrite("message", 1)
	return nil
}

// ClearCache 删除当前版本缓存后立即重新打开一个空缓存。
func (p *CacheProxy) ClearCache(ctx context.Context) error {
	deleted, err := p.storage.Delete(ctx, p.cacheName)
	if err != nil {
		return fmt.Errorf("delete cache %s: %w", p.cacheName, err)
	}
	if deleted {
		p.metrics.RecordCacheDeletion("clear")
	}
	if _, err := p.storage.Open(ctx, p.cacheName); err != nil {
		return fmt.Errorf("reopen cache %s: %w", p.cacheName, err)
	}
	return nil
}

// Status 返回缓存名列表与当前缓存条目数。
func (p *CacheProxy) Status(ctx context.Context) (Status, error) {
	names, err := p.storage.Keys(ctx)
	if err != nil {
		return Status{}, err
	}
	status := Status{
		CacheName: p.cacheName,
		Caches:    names,
		Claimed:   p.Claimed(),
	}
	exists, err := p.storage.Has(ctx, p.cacheName)
	if err != nil || !exists {
		return status, err
	}
	c, err := p.storage.Open(ctx, p.cacheName)
	if err != nil {
		return status, err
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		return status, err
	}
	status.Entries = len(keys)
	return status, nil
}

// Shutdown 等待后台刷新结束，ctx 到期时直接返回 ctx 错误。
func (p *CacheProxy) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestForURL 将站内路径或同源绝对 URL 转换为 GET 请求；跨域地址直接拒绝。
func (p *CacheProxy) requestForURL(raw string) (Request, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Request{}, errors.New("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Request{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.IsAbs() {
		if !strings.EqualFold(parsed.Host, p.origin.Host) {
			return Request{}, fmt.Errorf("url %q is not on origin %s", raw, p.origin.Host)
		}
	} else if !strings.HasPrefix(parsed.Path, "/") {
		parsed.Path = "/" + parsed.Path
	}
	return NewRequest(parsed.Path, parsed.RawQuery), nil
}
