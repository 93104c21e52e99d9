package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}

	w := c.Worker
	if strings.TrimSpace(w.CacheVersion) == "" {
		return newFieldError("Worker.CacheVersion", "不能为空")
	}
	if strings.ContainsAny(w.CacheName(), `/\ `) {
		return newFieldError("Worker.CachePrefix/CacheVersion", "缓存名不允许包含路径分隔符或空格")
	}
	if w.CleanupInterval.DurationValue() <= 0 {
		return newFieldError("Worker.CleanupInterval", "必须大于 0")
	}
	if strings.TrimSpace(w.AudioMarker) == "" {
		return newFieldError("Worker.AudioMarker", "不能为空")
	}
	if !strings.HasPrefix(w.FallbackPage, "/") {
		return newFieldError("Worker.FallbackPage", "必须是以 / 开头的站内路径")
	}
	for i, p := range w.Precache {
		if !strings.HasPrefix(p, "/") {
			return newFieldError(precacheField(i), "必须是以 / 开头的站内路径")
		}
	}

	n := c.Notification
	if n.ExploreURL != "" && !strings.HasPrefix(n.ExploreURL, "/") {
		return newFieldError("Notification.ExploreURL", "必须是以 / 开头的站内路径")
	}
	if n.DefaultURL != "" && !strings.HasPrefix(n.DefaultURL, "/") {
		return newFieldError("Notification.DefaultURL", "必须是以 / 开头的站内路径")
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// OriginURL 返回解析后的上游地址（假定 Validate 已经通过）。
func (c *Config) OriginURL() *url.URL {
	parsed, err := url.Parse(c.Global.Origin)
	if err != nil {
		return &url.URL{}
	}
	return parsed
}
