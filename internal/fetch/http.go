package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/brightway/pwa-edge/internal/cache"
	"github.com/brightway/pwa-edge/internal/version"
)

// ErrNetwork 表示回源在得到任何响应之前失败（连接拒绝、DNS、读取中断等）。
var ErrNetwork = errors.New("network fetch failed")

// Fetcher 是策略执行器依赖的网络边界。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// FetcherFunc 允许用普通函数实现 Fetcher，测试中用于模拟网络。
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 把公开 URL 的 path+query 映射到站点 Origin 并读取完整响应体。
type HTTPFetcher struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPFetcher 使用共享 client 访问 origin。
func NewHTTPFetcher(client *http.Client, origin *url.URL) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, origin: origin}
}

// Origin 返回回源基地址。
func (f *HTTPFetcher) Origin() *url.URL {
	return f.origin
}

// Resolve 将公开请求 URL 映射为 Origin 上的地址。
func (f *HTTPFetcher) Resolve(public *url.URL) *url.URL {
	relative := &url.URL{Path: "/"}
	if public != nil {
		relative.Path = public.Path
		relative.RawPath = public.RawPath
		relative.RawQuery = public.RawQuery
		if relative.Path == "" {
			relative.Path = "/"
		}
	}
	if f.origin == nil {
		return relative
	}
	resolved := *f.origin
	prefix := strings.TrimSuffix(resolved.Path, "/")
	resolved.Path = prefix + relative.Path
	resolved.RawPath = ""
	if relative.RawPath != "" {
		resolved.RawPath = prefix + relative.RawPath
	}
	resolved.RawQuery = relative.RawQuery
	return &resolved
}

// Fetch 发起回源请求。非 200 的状态码也作为响应返回，由调用方决定是否缓存。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("%w: empty request", ErrNetwork)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := f.Resolve(req.URL)
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		CopyHeaders(httpReq.Header, req.Header)
	}
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Add("Via", version.Via())
	httpReq.Host = target.Host
	if req.URL.Host != "" {
		httpReq.Header.Set("X-Forwarded-Host", req.URL.Host)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	return &cache.Response{
		Status:     resp.StatusCode,
		Header:     header,
		Body:       body,
		URL:        req.URL.String(),
		Redirected: final.String() != target.String(),
		Opaque:     !strings.EqualFold(final.Host, target.Host),
	}, nil
}
