package proxy

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/langlearner/offline-cache/internal/logging"
	"github.com/langlearner/offline-cache/internal/server"
)

// Interceptor 是 fetch 事件的处理入口。CacheProxy 直接实现它；
// worker.Runtime 则先走事件分发，再由注册的 fetch handler 调用 CacheProxy。
type Interceptor interface {
	Intercept(ctx context.Context, req Request) (Result, error)
}

// Intercept 让 CacheProxy 可以不经过 worker 直接挂到 HTTP 宿主上。
func (p *CacheProxy) Intercept(ctx context.Context, req Request) (Result, error) {
	return p.Fetch(ctx, req), nil
}

// Handler 把 Fiber 请求转换为 fetch 事件，并把拦截结果写回客户端。
type Handler struct {
	interceptor Interceptor
	cacheName   string
	logger      *logrus.Logger
}

// NewHandler constructs the HTTP entry point for intercepted requests.
func NewHandler(interceptor Interceptor, cacheName string, logger *logrus.Logger) *Handler {
	return &Handler{
		interceptor: interceptor,
		cacheName:   cacheName,
		logger:      logger,
	}
}

// Handle 执行一次拦截；拦截器返回错误时按上游失败处理，输出 502 JSON。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	req := requestFromFiber(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.interceptor.Intercept(ctx, req)
	if err != nil || result.Response == nil {
		h.logResult(req, result, requestID, fiber.StatusBadGateway, started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Offline-Cache-Hit", strconv.FormatBool(result.CacheHit))
	if result.Policy != "" {
		c.Set("X-Offline-Cache-Policy", result.Policy)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)

	h.logResult(req, result, requestID, resp.Status, started, nil)
	if req.Method == http.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

func (h *Handler) logResult(req Request, result Result, requestID string, status int, started time.Time, err error) {
	fields := logging.RequestFields(h.cacheName, result.Policy, req.Method, req.Path, result.CacheHit)
	fields["action"] = "fetch"
	fields["source"] = string(result.Source)
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

func requestFromFiber(c fiber.Ctx) Request {
	uri := c.Request().URI()
	pathVal := string(uri.Path())
	if pathVal == "" {
		pathVal = "/"
	}
	return Request{
		Method:   c.Method(),
		Path:     pathVal,
		RawQuery: string(uri.QueryString()),
		Header:   fiberHeadersAsHTTP(c),
		Body:     append([]byte(nil), c.Body()...),
	}
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
