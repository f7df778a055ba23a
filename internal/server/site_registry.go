package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/config"
	"github.com/brightway/pwa-edge/internal/logging"
)

// SiteRegistry 提供 Host/Host:port 到 Site 的查询能力，所有站点共享同一个监听端口。
// 站点集合在构造后固定；配置热更新只会推进已有站点的版本。
type SiteRegistry struct {
	sites   map[string]*Site
	ordered []*Site
	logger  *logrus.Logger
}

// NewSiteRegistry 根据配置构建 Host 映射并打开每个站点的存储。调用方应在启动阶段创建一次并复用。
func NewSiteRegistry(cfg *config.Config, client *http.Client, logger *logrus.Logger) (*SiteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if client == nil {
		client = NewUpstreamClient(cfg)
	}

	registry := &SiteRegistry{
		sites:  make(map[string]*Site, len(cfg.Sites)),
		logger: logger,
	}

	for _, siteCfg := range cfg.Sites {
		normalizedHost := normalizeDomain(siteCfg.Domain)
		if normalizedHost == "" {
			_ = registry.Close()
			return nil, fmt.Errorf("invalid domain for site %s", siteCfg.Name)
		}
		if _, exists := registry.sites[normalizedHost]; exists {
			_ = registry.Close()
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		site, err := newSite(cfg.Global, siteCfg, client, logger)
		if err != nil {
			_ = registry.Close()
			return nil, err
		}

		registry.sites[normalizedHost] = site
		registry.ordered = append(registry.ordered, site)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 Site。
func (r *SiteRegistry) Lookup(host string) (*Site, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	site, ok := r.sites[normalizedHost]
	return site, ok
}

// Find 按站点名称查找。
func (r *SiteRegistry) Find(name string) (*Site, bool) {
	if r == nil {
		return nil, false
	}
	for _, site := range r.ordered {
		if site.Name == name {
			return site, true
		}
	}
	return nil, false
}

// List 返回站点列表（按配置定义的顺序）。
func (r *SiteRegistry) List() []*Site {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*Site(nil), r.ordered...)
}

// Start 为每个站点注册当前脚本。单个站点安装失败不影响其它站点，
// 失败的站点在没有 active worker 时所有请求直接回源。
func (r *SiteRegistry) Start(ctx context.Context) error {
	var errs []error
	for _, site := range r.ordered {
		cfg := site.Config()
		fields := logging.SiteFields(site.Name, cfg.Version)
		fields["action"] = "register"
		fields["bucket"] = cfg.BucketName()
		if err := site.Start(ctx); err != nil {
			r.logger.WithFields(fields).WithError(err).Error("worker_register_failed")
			errs = append(errs, fmt.Errorf("site %s: %w", site.Name, err))
			continue
		}
		r.logger.WithFields(fields).Info("worker_registered")
	}
	return errors.Join(errs...)
}

// Apply 将新配置中的站点版本推进到已有站点。新增、删除或改了 Domain 的站点需要重启生效。
func (r *SiteRegistry) Apply(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	seen := make(map[string]struct{}, len(cfg.Sites))
	for _, siteCfg := range cfg.Sites {
		seen[siteCfg.Name] = struct{}{}
		fields := logging.SiteFields(siteCfg.Name, siteCfg.Version)
		fields["action"] = "reload"

		site, ok := r.Find(siteCfg.Name)
		if !ok || normalizeDomain(site.Domain) != normalizeDomain(siteCfg.Domain) {
			r.logger.WithFields(fields).Warn("site_reload_requires_restart")
			continue
		}

		previous := site.Registration.Snapshot()
		worker, err := site.Update(ctx, siteCfg)
		if err != nil {
			r.logger.WithFields(fields).WithError(err).Error("worker_update_failed")
			errs = append(errs, fmt.Errorf("site %s: %w", siteCfg.Name, err))
			continue
		}
		fields["state"] = worker.State().String()
		fields["previous_active"] = previous.Active
		r.logger.WithFields(fields).Info("worker_updated")
	}
	for _, site := range r.ordered {
		if _, ok := seen[site.Name]; !ok {
			r.logger.WithFields(logging.SiteFields(site.Name, "")).
				WithField("action", "reload").
				Warn("site_reload_requires_restart")
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部站点。
func (r *SiteRegistry) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, site := range r.ordered {
		if err := site.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
