package fetch

import (
	"net/http"
	"net/url"

	"github.com/brightway/pwa-edge/internal/cache"
)

// Request 是一次被拦截请求的视图，URL 为客户端看到的公开地址。
type Request struct {
	Method   string
	URL      *url.URL
	Header   http.Header
	Navigate bool
	// OfflinePage 是处理本请求的 worker 脚本声明的离线文档路径，导航请求失败时在同一个桶中查找。
	OfflinePage string
}

// NewRequest 构造 GET 请求，常用于预缓存与离线页查找。
func NewRequest(u *url.URL) *Request {
	return &Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
}

// Key 返回请求在缓存桶中的身份。
func (r *Request) Key() cache.Key {
	return cache.NewKey(r.Method, r.URL)
}

// WithPath 基于当前请求的 scheme/host 构造同站点的另一路径请求，不继承导航标记。
func (r *Request) WithPath(path string) *Request {
	target := &url.URL{Path: path}
	if r.URL != nil {
		target = r.URL.ResolveReference(&url.URL{Path: path})
	}
	return &Request{Method: http.MethodGet, URL: target, Header: http.Header{}}
}
