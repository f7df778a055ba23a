package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brightway/pwa-edge/internal/lifecycle"
)

// HTTPClient 通过 /-/lifecycle 端点轮询远端 pwa-edge 的注册状态。
type HTTPClient struct {
	baseURL  string
	host     string
	client   *http.Client
	interval time.Duration
}

// NewHTTPClient 创建客户端；host 非空时作为 Host 头发送，用于选择站点。
func NewHTTPClient(baseURL, host string, client *http.Client, interval time.Duration) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		host:     host,
		client:   client,
		interval: interval,
	}
}

// Snapshot 读取一次注册状态。
func (c *HTTPClient) Snapshot(ctx context.Context) (lifecycle.Snapshot, error) {
	var snap lifecycle.Snapshot
	resp, err := c.do(ctx, http.MethodGet, "/-/lifecycle", nil)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("lifecycle status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode lifecycle: %w", err)
	}
	return snap, nil
}

// SkipWaiting 发送 SKIP_WAITING 消息。
func (c *HTTPClient) SkipWaiting(ctx context.Context) error {
	payload, err := json.Marshal(lifecycle.Message{Type: lifecycle.MessageSkipWaiting})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/-/lifecycle/messages", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("skip waiting status %d", resp.StatusCode)
	}
	return nil
}

// Watch 按间隔轮询，仅在快照变化时产出；单次轮询失败会在下个周期重试。
func (c *HTTPClient) Watch(ctx context.Context) (<-chan lifecycle.Snapshot, error) {
	first, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan lifecycle.Snapshot, 1)
	go func() {
		defer close(out)
		last := first
		if !send(ctx, out, first) {
			return
		}
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := c.Snapshot(ctx)
				if err != nil || snap == last {
					continue
				}
				last = snap
				if !send(ctx, out, snap) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.host != "" {
		req.Host = c.host
	}
	return c.client.Do(req)
}
