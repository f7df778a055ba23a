package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/brightway/pwa-edge/internal/config"
	"github.com/brightway/pwa-edge/internal/logging"
	"github.com/brightway/pwa-edge/internal/proxy"
	"github.com/brightway/pwa-edge/internal/server"
	"github.com/brightway/pwa-edge/internal/server/routes"
	"github.com/brightway/pwa-edge/internal/version"
	"github.com/brightway/pwa-edge/internal/watch"
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

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
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
		fields["sites"] = len(cfg.Sites)
		fields["site_versions"] = config.SiteVersions(cfg.Sites)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序为“配置 → 站点注册表（缓存/同步队列）→ worker 注册 → Fiber server”，
	// 保证第一个请求到达时首个版本已完成预缓存。
	httpClient := server.NewUpstreamClient(cfg)
	registry, err := server.NewSiteRegistry(cfg, httpClient, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建站点注册表失败: %v\n", err)
		return 1
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.WithError(err).Warn("site_close_failed")
		}
	}()

	if err := registry.Start(ctx); err != nil {
		// 安装失败的站点保持无控制 worker，请求直接回源。
		logger.WithFields(logging.BaseFields("startup", opts.configPath)).WithError(err).Warn("worker_register_incomplete")
	}

	for _, site := range registry.List() {
		go site.Sync.Run(ctx, cfg.Global.SyncInterval.DurationValue())
	}

	if cfg.Global.WatchConfig {
		watcher, err := watch.New(opts.configPath, watch.DefaultDebounce, func() {
			_ = reloadConfig(ctx, opts.configPath, registry, logger)
		}, logger)
		if err != nil {
			logger.WithFields(logging.BaseFields("watch", opts.configPath)).WithError(err).Warn("config_watch_disabled")
		} else {
			go watcher.Run(ctx)
		}
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sites"] = len(cfg.Sites)
	fields["site_versions"] = config.SiteVersions(cfg.Sites)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	proxyHandler := proxy.NewForwarder(proxy.NewHandler(httpClient, logger), logger)
	if err := startHTTPServer(ctx, cfg, registry, proxyHandler, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// reloadConfig 重新加载配置文件并推进站点版本；无效配置只记录日志，继续使用旧版本。
func reloadConfig(ctx context.Context, path string, registry *server.SiteRegistry, logger *logrus.Logger) error {
	fields := logging.BaseFields("reload", path)
	cfg, err := config.Load(path)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("config_reload_failed")
		return err
	}
	fields["site_versions"] = config.SiteVersions(cfg.Sites)
	if err := registry.Apply(ctx, cfg); err != nil {
		logger.WithFields(fields).WithError(err).Error("config_apply_failed")
		return err
	}
	logger.WithFields(fields).Info("config_reloaded")
	return nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("pwa-edge", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVarP(&configFlag, "config", "c", "", "配置文件路径（默认 ./config.toml，可被 PWA_EDGE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVarP(&showVer, "version", "v", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PWA_EDGE_CONFIG")
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

func startHTTPServer(ctx context.Context, cfg *config.Config, registry *server.SiteRegistry, proxyHandler server.ProxyHandler, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		Control:    routes.Control(logger),
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("Fiber 服务停止")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
