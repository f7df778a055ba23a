package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brightway/pwa-edge/internal/lifecycle"
)

func TestHTTPClientSnapshotAndSkipWaiting(t *testing.T) {
	var mu sync.Mutex
	snap := lifecycle.Snapshot{Active: "v1", Waiting: "v2"}
	var gotHost, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotHost = r.Host
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/-/lifecycle":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"site":    "brightway",
				"active":  snap.Active,
				"waiting": snap.Waiting,
			})
		case r.Method == http.MethodPost && r.URL.Path == "/-/lifecycle/messages":
			var msg lifecycle.Message
			_ = json.NewDecoder(r.Body).Decode(&msg)
			gotType = msg.Type
			snap = lifecycle.Snapshot{Active: "v2"}
			w.WriteHeader(http.StatusAccepted)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "brightway.local", srv.Client(), 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := client.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if !first.UpdateReady() {
		t.Fatalf("expected update ready: %+v", first)
	}

	updates, err := client.Watch(ctx)
	if err != nil {
		t.Fatalf("watch error: %v", err)
	}
	if got := <-updates; got != first {
		t.Fatalf("first watch value should equal snapshot: %+v", got)
	}
	if err := client.SkipWaiting(ctx); err != nil {
		t.Fatalf("skip waiting error: %v", err)
	}
	select {
	case got := <-updates:
		if got.Active != "v2" || got.Waiting != "" {
			t.Fatalf("unexpected snapshot after skip: %+v", got)
		}
	case <-ctx.Done():
		t.Fatalf("watch did not observe change")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotHost != "brightway.local" {
		t.Fatalf("host header not forwarded: %s", gotHost)
	}
	if gotType != lifecycle.MessageSkipWaiting {
		t.Fatalf("unexpected message type %q", gotType)
	}
}
