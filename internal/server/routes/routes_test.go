package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/config"
	"github.com/brightway/pwa-edge/internal/lifecycle"
	"github.com/brightway/pwa-edge/internal/push"
	"github.com/brightway/pwa-edge/internal/server"
	"github.com/brightway/pwa-edge/internal/syncqueue"
)

const testHost = "brightway.local"

type routesFixture struct {
	app      *fiber.App
	registry *server.SiteRegistry
	origin   *httptest.Server
	posts    atomic.Int64
}

func siteConfig(origin, version string) config.SiteConfig {
	return config.SiteConfig{
		Name:        "brightway",
		Domain:      testHost,
		Origin:      origin,
		Version:     version,
		CachePrefix: "brightway-pwa",
		OfflinePage: "/offline.html",
		Precache:    []string{"/", "/offline.html"},
		SkipWaiting: config.SkipWaitingPrompt,
		Sync:        []config.SyncConfig{{Tag: "contact-form", Endpoint: "/api/contact"}},
		Push: config.PushConfig{
			Title: "BrightWay Notification",
			Body:  "You have a new update or service alert.",
			Icon:  "/icons/icon-192.png",
			Tag:   "brightway-update",
		},
	}
}

func newRoutesFixture(t *testing.T) *routesFixture {
	t.Helper()
	fx := &routesFixture{}
	fx.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fx.posts.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fmt.Fprintf(w, "origin %s", r.URL.Path)
	}))
	t.Cleanup(fx.origin.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:       5000,
			StoragePath:      t.TempDir(),
			StorageDriver:    config.StorageDriverBolt,
			PrecacheParallel: 2,
		},
		Sites: []config.SiteConfig{siteConfig(fx.origin.URL, "v1.4")},
	}
	registry, err := server.NewSiteRegistry(cfg, nil, logger)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })
	if err := registry.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Registry: registry,
		Proxy: server.ProxyHandlerFunc(func(c fiber.Ctx, _ *server.Site) error {
			return c.SendStatus(fiber.StatusNoContent)
		}),
		Control:    Control(logger),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	fx.app = app
	fx.registry = registry
	return fx
}

func (fx *routesFixture) do(t *testing.T, method, path string, body []byte) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://"+testHost+path, reader)
	req.Host = testHost
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := fx.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return out
}

func TestLifecycleEndpointReportsController(t *testing.T) {
	fx := newRoutesFixture(t)

	resp, body := fx.do(t, http.MethodGet, "/-/lifecycle", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	payload := decode[lifecyclePayload](t, body)
	if payload.Site != "brightway" || payload.Scope != "https://brightway.local/" {
		t.Fatalf("unexpected site payload: %+v", payload)
	}
	if payload.Active != "v1.4" || payload.Waiting != "" || payload.UpdateReady {
		t.Fatalf("unexpected snapshot: %+v", payload.Snapshot)
	}
	if payload.Controller == nil || payload.Controller.Bucket != "brightway-pwa-v1.4" {
		t.Fatalf("controller missing: %+v", payload.Controller)
	}

	// notifier.HTTPClient 直接把响应解码为 Snapshot。
	snap := decode[lifecycle.Snapshot](t, body)
	if snap.Active != "v1.4" {
		t.Fatalf("snapshot decode mismatch: %+v", snap)
	}
}

func TestLifecycleMessagesSkipWaiting(t *testing.T) {
	fx := newRoutesFixture(t)

	resp, _ := fx.do(t, http.MethodPost, "/-/lifecycle/messages", []byte(`{"type":"PING"}`))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("unsupported message should be rejected, got %d", resp.StatusCode)
	}
	resp, _ = fx.do(t, http.MethodPost, "/-/lifecycle/messages", []byte(`not-json`))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("invalid body should be rejected, got %d", resp.StatusCode)
	}
	resp, _ = fx.do(t, http.MethodPost, "/-/lifecycle/messages", []byte(`{"type":"SKIP_WAITING"}`))
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("skip waiting without waiting worker should conflict, got %d", resp.StatusCode)
	}

	next := &config.Config{Sites: []config.SiteConfig{siteConfig(fx.origin.URL, "v1.5")}}
	if err := fx.registry.Apply(context.Background(), next); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	_, body := fx.do(t, http.MethodGet, "/-/lifecycle", nil)
	if payload := decode[lifecyclePayload](t, body); !payload.UpdateReady || payload.Waiting != "v1.5" {
		t.Fatalf("expected v1.5 waiting, got %+v", payload)
	}

	resp, body = fx.do(t, http.MethodPost, "/-/lifecycle/messages", []byte(`{"type":"SKIP_WAITING"}`))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("skip waiting failed: %d %s", resp.StatusCode, string(body))
	}
	if got := decode[map[string]string](t, body)["active"]; got != "v1.5" {
		t.Fatalf("expected v1.5 active, got %s", got)
	}

	_, body = fx.do(t, http.MethodGet, "/-/buckets", nil)
	buckets := decode[struct {
		Buckets []bucketPayload `json:"buckets"`
	}](t, body).Buckets
	if len(buckets) != 1 || buckets[0].Name != "brightway-pwa-v1.5" || !buckets[0].Current {
		t.Fatalf("only the v1.5 bucket should remain: %+v", buckets)
	}
	if buckets[0].Entries != 2 {
		t.Fatalf("expected 2 precached entries, got %d", buckets[0].Entries)
	}
}

func TestPushAndNotificationClick(t *testing.T) {
	fx := newRoutesFixture(t)

	resp, body := fx.do(t, http.MethodPost, "/-/push", nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("push failed: %d %s", resp.StatusCode, string(body))
	}
	shown := decode[push.Notification](t, body)
	if shown.Title != "BrightWay Notification" || shown.Tag != "brightway-update" {
		t.Fatalf("defaults not applied: %+v", shown)
	}

	resp, _ = fx.do(t, http.MethodPost, "/-/push", []byte(`{"title":`))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("invalid payload should be rejected, got %d", resp.StatusCode)
	}

	resp, body = fx.do(t, http.MethodPost, "/-/notifications/"+shown.ID+"/click?action=contact", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("click failed: %d %s", resp.StatusCode, string(body))
	}
	result := decode[push.ClickResult](t, body)
	if result.URL != "https://brightway.local/#contact" || !result.Opened {
		t.Fatalf("unexpected click result: %+v", result)
	}
	if result.Client.Controller != "v1.4" {
		t.Fatalf("opened client should be controlled by v1.4, got %q", result.Client.Controller)
	}

	resp, _ = fx.do(t, http.MethodPost, "/-/notifications/"+shown.ID+"/click", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("clicked notification should be closed, got %d", resp.StatusCode)
	}
}

func TestNotificationClickFocusesAttachedClient(t *testing.T) {
	fx := newRoutesFixture(t)

	resp, body := fx.do(t, http.MethodPost, "/-/clients", []byte(`{"url":"/#services"}`))
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("attach failed: %d %s", resp.StatusCode, string(body))
	}
	attached := decode[lifecycle.Client](t, body)

	_, body = fx.do(t, http.MethodPost, "/-/push", []byte(`{"body":"Spring special"}`))
	shown := decode[push.Notification](t, body)
	_, body = fx.do(t, http.MethodPost, "/-/notifications/"+shown.ID+"/click?action=services", nil)
	result := decode[push.ClickResult](t, body)
	if result.Opened || result.Client.ID != attached.ID || !result.Client.Focused {
		t.Fatalf("expected attached client to be focused: %+v", result)
	}

	_, body = fx.do(t, http.MethodGet, "/-/clients", nil)
	clients := decode[struct {
		Clients []lifecycle.Client `json:"clients"`
	}](t, body).Clients
	if len(clients) != 1 {
		t.Fatalf("expected 1 client, got %d", len(clients))
	}

	resp, _ = fx.do(t, http.MethodDelete, "/-/clients/"+attached.ID, nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("detach failed: %d", resp.StatusCode)
	}
	resp, _ = fx.do(t, http.MethodDelete, "/-/clients/"+attached.ID, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("second detach should 404, got %d", resp.StatusCode)
	}
}

func TestSyncEndpoints(t *testing.T) {
	fx := newRoutesFixture(t)

	resp, body := fx.do(t, http.MethodPost, "/-/sync/contact-form/items", []byte(`{"name":"Dana","message":"Leaky faucet"}`))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("enqueue failed: %d %s", resp.StatusCode, string(body))
	}
	resp, _ = fx.do(t, http.MethodPost, "/-/sync/contact-form/items", []byte(`{broken`))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("invalid payload should be rejected, got %d", resp.StatusCode)
	}
	resp, _ = fx.do(t, http.MethodPost, "/-/sync/service-booking/items", []byte(`{}`))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("unknown tag should 404, got %d", resp.StatusCode)
	}

	_, body = fx.do(t, http.MethodGet, "/-/sync/contact-form", nil)
	pending := decode[struct {
		Items []syncqueue.Item `json:"items"`
	}](t, body).Items
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending item, got %d", len(pending))
	}

	resp, body = fx.do(t, http.MethodPost, "/-/sync/contact-form", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("sync failed: %d %s", resp.StatusCode, string(body))
	}
	result := decode[syncqueue.Result](t, body)
	if result.Sent != 1 || result.Remaining != 0 {
		t.Fatalf("unexpected sync result: %+v", result)
	}
	if fx.posts.Load() != 1 {
		t.Fatalf("origin should receive one replayed POST, got %d", fx.posts.Load())
	}
}
