package server

import (
	"context"
	"testing"

	"github.com/brightway/pwa-edge/internal/config"
)

func TestSiteRegistryLookupByHost(t *testing.T) {
	origin := newTestOrigin(t)
	cfg := testConfig(t,
		testSiteConfig("brightway", "brightway.local", origin.URL, "v1.4"),
		testSiteConfig("docs", "docs.brightway.local", origin.URL, "v1"),
	)
	registry := newTestRegistry(t, cfg)

	site, ok := registry.Lookup("BrightWay.Local")
	if !ok {
		t.Fatalf("expected brightway site")
	}
	if site.Name != "brightway" {
		t.Fatalf("wrong site returned: %s", site.Name)
	}
	if site.Scope.String() != "https://brightway.local/" {
		t.Fatalf("unexpected scope: %s", site.Scope)
	}
	if site.Origin.String() != origin.URL {
		t.Fatalf("unexpected origin: %s", site.Origin)
	}

	if _, ok := registry.Lookup("docs.brightway.local:5000"); !ok {
		t.Fatalf("expected host:port lookup to succeed")
	}
	if _, ok := registry.Lookup("unknown.local"); ok {
		t.Fatalf("unknown host should not resolve")
	}
	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 sites, got %d", got)
	}
}

func TestSiteRegistryRejectsDuplicateDomains(t *testing.T) {
	origin := newTestOrigin(t)
	cfg := testConfig(t,
		testSiteConfig("a", "brightway.local", origin.URL, "v1"),
		testSiteConfig("b", "BRIGHTWAY.local.", origin.URL, "v1"),
	)
	if _, err := NewSiteRegistry(cfg, nil, discardLogger()); err == nil {
		t.Fatalf("expected duplicate domain error")
	}
}

func TestSiteRegistryStartActivatesFirstVersion(t *testing.T) {
	origin := newTestOrigin(t)
	cfg := testConfig(t, testSiteConfig("brightway", "brightway.local", origin.URL, "v1.4"))
	registry := newTestRegistry(t, cfg)

	if err := registry.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	site, _ := registry.Find("brightway")
	worker := site.Registration.Controller()
	if worker == nil || worker.Version() != "v1.4" {
		t.Fatalf("expected v1.4 to control the scope, got %+v", worker)
	}
	keys, err := site.Store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "brightway-pwa-v1.4" {
		t.Fatalf("unexpected buckets: %v", keys)
	}
	n, err := worker.Bucket().Len(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 precached entries, got %d (%v)", n, err)
	}
}

func TestSiteRegistryApplyInstallsNewVersion(t *testing.T) {
	origin := newTestOrigin(t)
	cfg := testConfig(t, testSiteConfig("brightway", "brightway.local", origin.URL, "v1.3"))
	registry := newTestRegistry(t, cfg)
	if err := registry.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	next := testConfig(t, testSiteConfig("brightway", "brightway.local", origin.URL, "v1.4"))
	if err := registry.Apply(context.Background(), next); err != nil {
		t.Fatalf("apply error: %v", err)
	}

	site, _ := registry.Find("brightway")
	snap := site.Registration.Snapshot()
	if snap.Active != "v1.3" || snap.Waiting != "v1.4" {
		t.Fatalf("expected v1.4 waiting behind v1.3, got %+v", snap)
	}
	if site.Config().Version != "v1.4" {
		t.Fatalf("site config should follow the applied version")
	}

	// 相同配置再次 Apply 不会产生新的 worker。
	if err := registry.Apply(context.Background(), next); err != nil {
		t.Fatalf("second apply error: %v", err)
	}
	if got := site.Registration.Snapshot(); got != snap {
		t.Fatalf("idempotent apply changed registration: %+v", got)
	}
}

func TestSiteRegistryApplyIgnoresNewSites(t *testing.T) {
	origin := newTestOrigin(t)
	cfg := testConfig(t, testSiteConfig("brightway", "brightway.local", origin.URL, "v1"))
	registry := newTestRegistry(t, cfg)

	next := testConfig(t,
		testSiteConfig("brightway", "brightway.local", origin.URL, "v1"),
		testSiteConfig("docs", "docs.local", origin.URL, "v1"),
	)
	if err := registry.Apply(context.Background(), next); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	if _, ok := registry.Find("docs"); ok {
		t.Fatalf("new sites must not be added at runtime")
	}
}

func TestScriptFromSite(t *testing.T) {
	cfg := testSiteConfig("brightway", "brightway.local", "https://origin.local", "v1.4")
	cfg.SkipWaiting = "auto"
	script, err := ScriptFromSite(cfg)
	if err != nil {
		t.Fatalf("script error: %v", err)
	}
	if script.Bucket != "brightway-pwa-v1.4" {
		t.Fatalf("unexpected bucket %s", script.Bucket)
	}
	if !script.AutoSkipWaiting {
		t.Fatalf("auto skip waiting should be carried over")
	}
	if len(script.Routing.Rules) == 0 {
		t.Fatalf("default routing rules expected when no routes configured")
	}

	cfg.Routes = append(cfg.Routes, config.RouteConfig{Match: "prefix", Pattern: "/api/", Strategy: "fastest"})
	if _, err := ScriptFromSite(cfg); err == nil {
		t.Fatalf("unknown strategy should be rejected")
	}
}
