package server

import (
	"net"
	"net/http"
	"time"

	"github.com/brightway/pwa-edge/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回所有站点共享的回源 http.Client。
// UpstreamTimeout 为 0 时不设整体超时，慢源站由请求 ctx 决定何时放弃。
// 源站重定向照常跟随，是否可缓存由 fetch 层根据最终地址判断。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	var timeout time.Duration
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}
