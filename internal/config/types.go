package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"24h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、缓存目录与上游超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	LocalStorePath  string   `mapstructure:"LocalStorePath"`
	Origin          string   `mapstructure:"Origin"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	MetricsEnabled  bool     `mapstructure:"MetricsEnabled"`
}

// WorkerConfig 对应 [Worker] 段，控制缓存版本、预缓存清单与生命周期行为。
type WorkerConfig struct {
	CachePrefix     string   `mapstructure:"CachePrefix"`
	CacheVersion    string   `mapstructure:"CacheVersion"`
	Precache        []string `mapstructure:"Precache"`
	AudioMarker     string   `mapstructure:"AudioMarker"`
	FallbackPage    string   `mapstructure:"FallbackPage"`
	RecordingMarker string   `mapstructure:"RecordingMarker"`
	CleanupInterval Duration `mapstructure:"CleanupInterval"`
	SkipWaiting     bool     `mapstructure:"SkipWaiting"`
	ClaimClients    bool     `mapstructure:"ClaimClients"`
}

// NotificationConfig 对应 [Notification] 段，描述推送通知模板与点击跳转目标。
type NotificationConfig struct {
	Title      string `mapstructure:"Title"`
	Icon       string `mapstructure:"Icon"`
	Badge      string `mapstructure:"Badge"`
	ExploreURL string `mapstructure:"ExploreURL"`
	DefaultURL string `mapstructure:"DefaultURL"`
	KeepRecent int    `mapstructure:"KeepRecent"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	Worker       WorkerConfig       `mapstructure:"Worker"`
	Notification NotificationConfig `mapstructure:"Notification"`
}

// CacheName 返回当前版本的缓存名，例如 language-learner-v1.0.0。
func (w WorkerConfig) CacheName() string {
	return w.CachePrefix + w.CacheVersion
}
