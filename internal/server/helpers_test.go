package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/config"
)

// testOrigin 模拟站点源站，记录请求次数。
type testOrigin struct {
	*httptest.Server
	hits atomic.Int64
}

func newTestOrigin(t *testing.T) *testOrigin {
	t.Helper()
	origin := &testOrigin{}
	origin.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin.hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "origin %s", r.URL.Path)
	}))
	t.Cleanup(origin.Close)
	return origin
}

func testSiteConfig(name, domain, origin, version string) config.SiteConfig {
	return config.SiteConfig{
		Name:            name,
		Domain:          domain,
		Origin:          origin,
		Version:         version,
		CachePrefix:     name + "-pwa",
		OfflinePage:     "/offline.html",
		Precache:        []string{"/", "/offline.html"},
		DefaultStrategy: "network-first",
		SkipWaiting:     config.SkipWaitingPrompt,
		Sync: []config.SyncConfig{
			{Tag: "contact-form", Endpoint: "/api/contact"},
		},
		Push: config.PushConfig{
			Title: "BrightWay Notification",
			Body:  "You have a new update or service alert.",
			Icon:  "/icons/icon-192.png",
		},
	}
}

func testConfig(t *testing.T, sites ...config.SiteConfig) *config.Config {
	t.Helper()
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:       5000,
			StoragePath:      t.TempDir(),
			StorageDriver:    config.StorageDriverBolt,
			PrecacheParallel: 2,
		},
		Sites: sites,
	}
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRegistry(t *testing.T, cfg *config.Config) *SiteRegistry {
	t.Helper()
	registry, err := NewSiteRegistry(cfg, nil, discardLogger())
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })
	return registry
}
