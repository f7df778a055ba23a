package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/cache"
	"github.com/brightway/pwa-edge/internal/config"
	"github.com/brightway/pwa-edge/internal/fetch"
	"github.com/brightway/pwa-edge/internal/lifecycle"
	"github.com/brightway/pwa-edge/internal/logging"
	"github.com/brightway/pwa-edge/internal/push"
	"github.com/brightway/pwa-edge/internal/strategy"
	"github.com/brightway/pwa-edge/internal/syncqueue"
)

// Site 聚合一个站点作用域运行所需的组件：缓存、注册句柄、策略执行器、通知与同步队列。
// 除 config 外的字段在构造后不再变化，可被请求 goroutine 直接读取。
type Site struct {
	Name   string
	Domain string
	// Scope 是站点公开根地址，缓存键与预缓存键都以它为基准。
	Scope *url.URL
	// Origin 是回源地址，Fetcher 会把公开路径映射到它下面。
	Origin *url.URL

	Store        cache.Store
	Fetcher      *fetch.HTTPFetcher
	Registration *lifecycle.Registration
	Executor     *strategy.Executor
	Push         *push.Center
	Sync         *syncqueue.Queue

	logger *logrus.Logger

	mu     sync.RWMutex
	config config.SiteConfig
}

// ScriptFromSite 将站点配置转换为 worker 脚本。版本号是触发重新预缓存与清理的唯一输入，
// 版本不变时清单或路由的改动要等下一个版本才会生效。
func ScriptFromSite(site config.SiteConfig) (lifecycle.Script, error) {
	routingOpts, err := site.RoutingOptions()
	if err != nil {
		return lifecycle.Script{}, fmt.Errorf("site %s: %w", site.Name, err)
	}
	return lifecycle.Script{
		Version:         site.Version,
		Bucket:          site.BucketName(),
		Precache:        append([]string(nil), site.Precache...),
		OfflinePage:     site.OfflinePage,
		Routing:         routingOpts,
		AutoSkipWaiting: site.AutoSkipWaiting(),
	}, nil
}

// ScopeURL 返回站点作用域根地址，例如 https://brightway.local/。
func ScopeURL(domain string) *url.URL {
	return &url.URL{
		Scheme: "https",
		Host:   strings.ToLower(strings.TrimSpace(domain)),
		Path:   "/",
	}
}

func newSite(global config.GlobalConfig, cfg config.SiteConfig, client *http.Client, logger *logrus.Logger) (*Site, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin for site %s: %w", cfg.Name, err)
	}

	dir := filepath.Join(global.StoragePath, cfg.Name)
	store, err := cache.NewStore(global.StorageDriver, filepath.Join(dir, "cache"), cache.Options{
		CompressThreshold: global.CompressThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", cfg.Name, err)
	}

	endpoints := make(map[string]string, len(cfg.Sync))
	for _, entry := range cfg.Sync {
		endpoints[entry.Tag] = entry.Endpoint
	}
	queue, err := syncqueue.Open(syncqueue.Options{
		Dir:       filepath.Join(dir, "sync"),
		Site:      cfg.Name,
		Origin:    origin,
		Client:    client,
		Endpoints: endpoints,
		Logger:    logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("site %s: %w", cfg.Name, err)
	}

	scope := ScopeURL(cfg.Domain)
	fetcher := fetch.NewHTTPFetcher(client, origin)
	reg := lifecycle.NewRegistration(lifecycle.Options{
		Site:             cfg.Name,
		Scope:            scope,
		Store:            store,
		Fetcher:          fetcher,
		Logger:           logger,
		PrecacheParallel: global.PrecacheParallel,
	})
	executor := strategy.New(strategy.Options{
		Fetcher: fetcher,
		Logger:  logger,
		Site:    cfg.Name,
	})
	center := push.NewCenter(reg, push.Defaults{
		Title:   cfg.Push.Title,
		Body:    cfg.Push.Body,
		Icon:    cfg.Push.Icon,
		Badge:   cfg.Push.Badge,
		Tag:     cfg.Push.Tag,
		Vibrate: append([]int(nil), cfg.Push.Vibrate...),
	}, logger)

	return &Site{
		Name:         cfg.Name,
		Domain:       cfg.Domain,
		Scope:        scope,
		Origin:       origin,
		Store:        store,
		Fetcher:      fetcher,
		Registration: reg,
		Executor:     executor,
		Push:         center,
		Sync:         queue,
		logger:       logger,
		config:       cfg,
	}, nil
}

// Config 返回站点当前生效的配置副本。
func (s *Site) Config() config.SiteConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Start 在作用域 / 上注册当前配置对应的脚本。
func (s *Site) Start(ctx context.Context) error {
	worker, err := s.Update(ctx, s.Config())
	if err != nil {
		return err
	}
	s.logger.WithFields(logging.SiteFields(s.Name, worker.Version())).
		WithField("bucket", worker.Script().Bucket).
		WithField("state", worker.State().String()).
		Debug("site_started")
	return nil
}

// Update 以新配置安装脚本；内容未变时 Registration 会直接返回现有 worker。
func (s *Site) Update(ctx context.Context, cfg config.SiteConfig) (*lifecycle.Worker, error) {
	script, err := ScriptFromSite(cfg)
	if err != nil {
		return nil, err
	}
	worker, err := s.Registration.Update(ctx, script)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	return worker, nil
}

// Close 等待后台刷新结束后关闭缓存与同步队列。只能由 SiteRegistry 在退出时调用。
func (s *Site) Close() error {
	s.Executor.Wait()
	return errors.Join(s.Sync.Close(), s.Store.Close())
}
