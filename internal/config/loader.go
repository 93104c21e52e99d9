package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPrecache 是安装阶段默认预缓存的资源清单。音频体积较大，不在其中。
var DefaultPrecache = []string{
	"/",
	"/scene1.html",
	"/scene2.html",
	"/scene3.html",
	"/scene4.html",
	"/scene5.html",
	"/scene6.html",
	"/manifest.json",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker)
	applyNotificationDefaults(&cfg.Notification)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("LocalStorePath", "./storage/localstore.db")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MetricsEnabled", true)

	v.SetDefault("Worker.CachePrefix", "language-learner-")
	v.SetDefault("Worker.CacheVersion", "v1.0.0")
	v.SetDefault("Worker.Precache", DefaultPrecache)
	v.SetDefault("Worker.AudioMarker", "/audio/")
	v.SetDefault("Worker.FallbackPage", "/scene1.html")
	v.SetDefault("Worker.RecordingMarker", "_recording")
	v.SetDefault("Worker.CleanupInterval", "24h")
	v.SetDefault("Worker.SkipWaiting", true)
	v.SetDefault("Worker.ClaimClients", true)

	v.SetDefault("Notification.Title", "언어 학습기")
	v.SetDefault("Notification.Icon", "/manifest.json")
	v.SetDefault("Notification.Badge", "/manifest.json")
	v.SetDefault("Notification.ExploreURL", "/scene1.html")
	v.SetDefault("Notification.DefaultURL", "/")
	v.SetDefault("Notification.KeepRecent", 50)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8080
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.Origin = strings.TrimRight(strings.TrimSpace(g.Origin), "/")
}

func applyWorkerDefaults(w *WorkerConfig) {
	if len(w.Precache) == 0 {
		w.Precache = append([]string(nil), DefaultPrecache...)
	}
	for i, p := range w.Precache {
		w.Precache[i] = strings.TrimSpace(p)
	}
	if w.CleanupInterval.DurationValue() == 0 {
		w.CleanupInterval = Duration(24 * time.Hour)
	}
}

func applyNotificationDefaults(n *NotificationConfig) {
	if n.KeepRecent <= 0 {
		n.KeepRecent = 50
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
