package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/langlearner/offline-cache/internal/cache"
	"github.com/langlearner/offline-cache/internal/server"
)

// ErrNotOK 表示上游返回了非 2xx 状态，cache.add/addAll 语义下视为失败。
var ErrNotOK = errors.New("upstream response not ok")

// network 将请求发往上游并把响应完整读入内存，返回的 Response 可以安全地 Clone 后写缓存。
func (p *CacheProxy) network(ctx context.Context, req Request) (*cache.Response, error) {
	target := p.resolveURL(req)
	httpReq, err := p.buildUpstreamRequest(ctx, target, req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	return &cache.Response{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		Type:     p.responseType(finalURL),
		URL:      finalURL.String(),
		StoredAt: time.Now().UTC(),
	}, nil
}

func (p *CacheProxy) buildUpstreamRequest(ctx context.Context, target *url.URL, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	// 交给 Transport 自动协商压缩，缓存中始终保存解压后的正文。
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Host")
	httpReq.Host = target.Host
	return httpReq, nil
}

func (p *CacheProxy) resolveURL(req Request) *url.URL {
	clean := req.Key().Path
	relative := &url.URL{Path: clean}
	if req.RawQuery != "" {
		relative.RawQuery = strings.TrimPrefix(req.RawQuery, "?")
	}
	base := *p.origin
	if base.Path == "" {
		base.Path = "/"
	}
	resolved := base.ResolveReference(relative)
	if prefix := strings.TrimSuffix(p.origin.Path, "/"); prefix != "" {
		resolved.Path = path.Join(prefix, clean)
		if strings.HasSuffix(clean, "/") {
			resolved.Path += "/"
		}
	}
	return resolved
}

// responseType 对照 Fetch 规范：最终 URL 与上游同源即 basic，否则视为 cors。
func (p *CacheProxy) responseType(final *url.URL) cache.ResponseType {
	if final == nil {
		return cache.TypeBasic
	}
	if strings.EqualFold(final.Scheme, p.origin.Scheme) && strings.EqualFold(final.Host, p.origin.Host) {
		return cache.TypeBasic
	}
	return cache.TypeCORS
}

// offlineResponse 合成离线时返回给调用方的 503。
func offlineResponse(body string) *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &cache.Response{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   []byte(body),
		Type:   cache.TypeDefault,
	}
}
