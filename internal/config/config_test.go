package config

import (
	"errors"
	"testing"
	"time"

	"github.com/brightway/pwa-edge/internal/routing"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StorageDriver != StorageDriverBolt {
		t.Fatalf("StorageDriver 默认应为 bolt: %s", cfg.Global.StorageDriver)
	}
	if cfg.Global.SyncInterval.DurationValue() != 5*time.Minute {
		t.Fatalf("SyncInterval 应自动填充默认值")
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 0 {
		t.Fatalf("UpstreamTimeout 默认不限制")
	}
	if len(cfg.Sites) != 1 {
		t.Fatalf("应解析出一个站点: %d", len(cfg.Sites))
	}

	site := cfg.Sites[0]
	if site.BucketName() != "brightway-pwa-v1.4" {
		t.Fatalf("桶名不符合预期: %s", site.BucketName())
	}
	if site.SkipWaiting != SkipWaitingPrompt || site.AutoSkipWaiting() {
		t.Fatalf("SkipWaiting 默认应为 prompt")
	}
	if last := site.Precache[len(site.Precache)-1]; last != "/offline.html" {
		t.Fatalf("离线页应被追加到预缓存清单: %v", site.Precache)
	}
	if site.Routes[0].Strategy != "network-first" {
		t.Fatalf("Route.Strategy 应被规范化为小写: %s", site.Routes[0].Strategy)
	}
	if site.Push.Title != "BrightWay Notification" || len(site.Push.Vibrate) != 3 {
		t.Fatalf("Push 默认值缺失: %+v", site.Push)
	}
	if len(site.Sync) != 1 || site.Sync[0].Endpoint != "/api/contact" {
		t.Fatalf("Sync 队列解析错误: %+v", site.Sync)
	}
}

func TestValidateRejectsBadSite(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateSiteFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"missing version", func(c *Config) { c.Sites[0].Version = "" }, "Site[brightway].Version"},
		{"bad skip waiting", func(c *Config) { c.Sites[0].SkipWaiting = "never" }, "Site[brightway].SkipWaiting"},
		{"bad driver", func(c *Config) { c.Global.StorageDriver = "redis" }, "Global.StorageDriver"},
		{"bad log format", func(c *Config) { c.Global.LogFormat = "xml" }, "Global.LogFormat"},
		{"relative offline page", func(c *Config) { c.Sites[0].OfflinePage = "offline.html" }, "Site[brightway].OfflinePage"},
		{"empty route pattern", func(c *Config) {
			c.Sites[0].Routes = []RouteConfig{{Match: "prefix", Strategy: "cache-first"}}
		}, "Site[brightway].Route[0].Pattern"},
		{"sync endpoint", func(c *Config) {
			c.Sites[0].Sync = []SyncConfig{{Tag: "contact-form", Endpoint: "api/contact"}}
		}, "Site[brightway].Sync[0].Endpoint"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			var fieldErr FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fieldErr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, fieldErr.Field)
			}
		})
	}
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Sites[0].Routes = []RouteConfig{{Match: "prefix", Pattern: "/api/", Strategy: "cache-only"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知策略应当报错")
	}

	cfg = validConfig()
	cfg.Sites[0].Routes = []RouteConfig{{Match: "regex", Pattern: "/api/", Strategy: "cache-first"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知匹配方式应当报错")
	}
}

func TestValidateRejectsDuplicateDomain(t *testing.T) {
	cfg := validConfig()
	second := cfg.Sites[0]
	second.Name = "brightway-staging"
	second.Domain = "BrightWay.local"
	cfg.Sites = append(cfg.Sites, second)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复 Domain 应当报错")
	}
}

func TestRoutingOptionsFallsBackToDefaults(t *testing.T) {
	site := validConfig().Sites[0]
	opts, err := site.RoutingOptions()
	if err != nil {
		t.Fatalf("RoutingOptions 返回错误: %v", err)
	}
	if len(opts.Rules) != len(routing.DefaultRules()) {
		t.Fatalf("未配置 Route 时应使用默认规则表")
	}

	site.Routes = []RouteConfig{{Match: "suffix", Pattern: ".woff2", Strategy: "cache-first"}}
	site.DefaultStrategy = "stale-while-revalidate"
	opts, err = site.RoutingOptions()
	if err != nil {
		t.Fatalf("RoutingOptions 返回错误: %v", err)
	}
	if len(opts.Rules) != 1 || opts.Rules[0].Kind != routing.MatchSuffix || opts.Rules[0].Strategy != routing.CacheFirst {
		t.Fatalf("自定义规则转换错误: %+v", opts.Rules)
	}
	if opts.DefaultStrategy != routing.StaleWhileRevalidate {
		t.Fatalf("默认策略转换错误: %v", opts.DefaultStrategy)
	}
}

func TestSiteVersions(t *testing.T) {
	got := SiteVersions(validConfig().Sites)
	if len(got) != 1 || got[0] != "brightway:v1.4" {
		t.Fatalf("unexpected versions: %v", got)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:       5000,
			StoragePath:      "./data",
			StorageDriver:    StorageDriverBolt,
			PrecacheParallel: 4,
		},
		Sites: []SiteConfig{
			{
				Name:        "brightway",
				Domain:      "brightway.local",
				Origin:      "https://origin.brightway.local",
				Version:     "v1.4",
				CachePrefix: "brightway-pwa",
				OfflinePage: "/offline.html",
				Precache:    []string{"/", "/offline.html"},
				SkipWaiting: SkipWaitingPrompt,
			},
		},
	}
}
