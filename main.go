package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/langlearner/offline-cache/internal/cache"
	"github.com/langlearner/offline-cache/internal/config"
	"github.com/langlearner/offline-cache/internal/localstore"
	"github.com/langlearner/offline-cache/internal/logging"
	"github.com/langlearner/offline-cache/internal/notify"
	"github.com/langlearner/offline-cache/internal/policy"
	"github.com/langlearner/offline-cache/internal/proxy"
	"github.com/langlearner/offline-cache/internal/server"
	"github.com/langlearner/offline-cache/internal/server/routes"
	"github.com/langlearner/offline-cache/internal/syncer"
	"github.com/langlearner/offline-cache/internal/telemetry"
	"github.com/langlearner/offline-cache/internal/version"
	"github.com/langlearner/offline-cache/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Global.Origin
		fields["cache"] = cfg.Worker.CacheName()
		fields["precache"] = len(cfg.Worker.Precache)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer svc.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Global.Origin
	fields["cache"] = cfg.Worker.CacheName()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["state"] = string(svc.runtime.State())
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := serve(ctx, svc.app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// service 持有运行期组件，close 按依赖反序释放。
type service struct {
	app     *fiber.App
	proxy   *proxy.CacheProxy
	runtime *worker.Runtime
	local   *localstore.Store
	logger  *logrus.Logger
}

// newService 遵循“磁盘缓存 → 缓存代理 → worker 生命周期 → Fiber app”顺序装配，
// 返回前 worker 已完成 install（以及 skip-waiting 时的 activate）。
func newService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	metrics := telemetry.NewMetrics(cfg.Global.MetricsEnabled, "")

	cacheProxy, err := proxy.New(proxy.Options{
		Origin:       cfg.OriginURL(),
		CacheName:    cfg.Worker.CacheName(),
		CachePrefix:  cfg.Worker.CachePrefix,
		Precache:     cfg.Worker.Precache,
		FallbackPage: cfg.Worker.FallbackPage,
		Policies:     policy.Builtin(cfg.Worker.AudioMarker),
		Client:       server.NewUpstreamClient(cfg),
		Storage:      store,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, err
	}

	local, err := localstore.Open(cfg.Global.LocalStorePath)
	if err != nil {
		return nil, fmt.Errorf("打开本地存储失败: %w", err)
	}
	recordings, err := syncer.New(local, syncer.NopRemote{}, cfg.Worker.RecordingMarker, logger)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	recorder := notify.NewRecorder(logger, cfg.Notification.KeepRecent)

	rt, err := worker.NewRuntime(worker.Options{
		Logger:  logger,
		Metrics: metrics,
		Maintenance: func(ctx context.Context) error {
			_, err := cacheProxy.CleanOldCaches(ctx)
			return err
		},
		Interval: cfg.Worker.CleanupInterval.DurationValue(),
	})
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	err = worker.RegisterDefaults(rt, worker.Dependencies{
		Proxy:    cacheProxy,
		Notifier: recorder,
		Template: notify.Template{
			Title:      cfg.Notification.Title,
			Icon:       cfg.Notification.Icon,
			Badge:      cfg.Notification.Badge,
			ExploreURL: cfg.Notification.ExploreURL,
			DefaultURL: cfg.Notification.DefaultURL,
		},
		Syncer:       recordings,
		Logger:       logger,
		SkipWaiting:  cfg.Worker.SkipWaiting,
		ClaimClients: cfg.Worker.ClaimClients,
	})
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	if err := rt.Start(ctx); err != nil {
		_ = local.Close()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Fetch:  proxy.NewHandler(rt, cfg.Worker.CacheName(), logger),
	})
	if err != nil {
		rt.Shutdown()
		_ = local.Close()
		return nil, err
	}
	err = routes.RegisterControlRoutes(app, routes.Control{
		Runtime:       rt,
		Proxy:         cacheProxy,
		Notifications: recorder,
		LocalStore:    local,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		rt.Shutdown()
		_ = local.Close()
		return nil, err
	}

	return &service{
		app:     app,
		proxy:   cacheProxy,
		runtime: rt,
		local:   local,
		logger:  logger,
	}, nil
}

func (s *service) close() {
	s.runtime.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.proxy.Shutdown(ctx); err != nil {
		s.logger.WithError(err).WithField("action", "shutdown").Warn("revalidation_wait_timeout")
	}
	if err := s.local.Close(); err != nil {
		s.logger.WithError(err).WithField("action", "shutdown").Warn("localstore_close_failed")
	}
}

// serve 监听端口直到 ctx 结束，随后优雅关闭 Fiber。
func serve(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.WithField("action", "shutdown").Info("Fiber 服务关闭")
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
