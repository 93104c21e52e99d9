package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/langlearner/offline-cache/internal/config"
	"github.com/langlearner/offline-cache/internal/logging"
	"github.com/langlearner/offline-cache/internal/worker"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("OFFLINE_CACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsDefaults(t *testing.T) {
	t.Setenv("OFFLINE_CACHE_CONFIG", "")
	opts, err := parseCLIFlags([]string{"--check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" || !opts.checkOnly {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应返回错误")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(context.Background(), cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(context.Background(), cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErr.(*bytes.Buffer).String(), "加载配置失败") {
		t.Fatalf("stderr 应包含错误提示")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(context.Background(), cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOut.(*bytes.Buffer).String(), "offline-cache") {
		t.Fatalf("version 输出应包含 offline-cache 标识")
	}
}

// TestServiceEndToEnd 覆盖安装 → 激活 → 在线缓存 → 离线回退 → 新版本清理旧缓存的完整流程。
func TestServiceEndToEnd(t *testing.T) {
	var offline atomic.Bool
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if offline.Load() {
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				_ = conn.Close()
				return
			}
		}
		_, _ = io.WriteString(w, "page:"+r.URL.Path)
	}))
	t.Cleanup(origin.Close)

	dir := t.TempDir()
	cfg := loadServiceConfig(t, origin.URL, dir, "v1.0.0")

	svc, err := newService(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}
	if svc.runtime.State() != worker.StateActivated {
		t.Fatalf("期望 activated，得到 %s", svc.runtime.State())
	}

	resp := doGet(t, svc, "/manifest.json", nil)
	if resp.Header.Get("X-Offline-Cache-Hit") != "true" {
		t.Fatalf("预缓存资源应命中缓存")
	}

	offline.Store(true)
	resp = doGet(t, svc, "/scene9.html", map[string]string{"Sec-Fetch-Dest": "document"})
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "page:/scene1.html" {
		t.Fatalf("离线文档请求应回退到 scene1，得到 %d %s", resp.StatusCode, string(body))
	}
	resp = doGet(t, svc, "/audio/x.mp3", nil)
	body, _ = io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusServiceUnavailable || string(body) != "Audio file not available offline" {
		t.Fatalf("离线音频应返回 503，得到 %d %s", resp.StatusCode, string(body))
	}
	svc.close()

	offline.Store(false)
	next := loadServiceConfig(t, origin.URL, dir, "v1.1.0")
	svc2, err := newService(context.Background(), next, logging.Discard())
	if err != nil {
		t.Fatalf("初始化新版本失败: %v", err)
	}
	defer svc2.close()

	status, err := svc2.proxy.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Caches) != 1 || status.Caches[0] != "language-learner-v1.1.0" {
		t.Fatalf("激活后应只保留当前缓存，得到 %v", status.Caches)
	}
}

func loadServiceConfig(t *testing.T, originURL, dir, cacheVersion string) *config.Config {
	t.Helper()
	path := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
LocalStorePath = "%s"
Origin = "%s"
UpstreamTimeout = "5s"

[Worker]
CacheVersion = "%s"
`, filepath.Join(dir, "cache"), filepath.Join(dir, "localstore.db"), originURL, cacheVersion))

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}

func doGet(t *testing.T, svc *service, target string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := svc.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}
