package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/cache"
	"github.com/brightway/pwa-edge/internal/fetch"
	"github.com/brightway/pwa-edge/internal/routing"
)

// ErrUnavailable 表示网络失败且没有任何可用的回退（缓存条目或离线页）。
var ErrUnavailable = errors.New("no response available")

// Source 标识响应来自哪里，对应 X-Pwa-Edge-Cache 头。
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "offline"
)

// Outcome 是一次策略执行的结果。
type Outcome struct {
	Response *cache.Response
	Source   Source
	Strategy routing.Strategy
}

// Options 用于构造 Executor。
type Options struct {
	Fetcher fetch.Fetcher
	Logger  *logrus.Logger
	Site    string
}

// Executor 绑定一个站点的回源方式。离线页与缓存桶都随请求传入，
// 同一请求内二者来自同一个 worker。
type Executor struct {
	fetcher fetch.Fetcher
	logger  *logrus.Logger
	site    string

	background sync.WaitGroup
}

// New 创建 Executor。
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{
		fetcher: opts.Fetcher,
		logger:  logger,
		site:    opts.Site,
	}
}

// Execute 按策略分派。bucket 为 nil 时所有查找视为未命中且不写缓存。
func (e *Executor) Execute(ctx context.Context, s routing.Strategy, req *fetch.Request, bucket cache.Bucket) (*Outcome, error) {
	switch s {
	case routing.CacheFirst:
		return e.CacheFirst(ctx, req, bucket)
	case routing.NetworkFirst:
		return e.NetworkFirst(ctx, req, bucket)
	case routing.StaleWhileRevalidate:
		return e.StaleWhileRevalidate(ctx, req, bucket)
	default:
		return nil, fmt.Errorf("unsupported strategy %v", s)
	}
}

// CacheFirst 命中即返回且不访问网络；未命中时回源并写入 200 响应。
func (e *Executor) CacheFirst(ctx context.Context, req *fetch.Request, bucket cache.Bucket) (*Outcome, error) {
	if cached := e.lookup(ctx, bucket, req.Key()); cached != nil {
		return &Outcome{Response: cached, Source: SourceCache, Strategy: routing.CacheFirst}, nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if failed(resp, err) {
		return e.recover(ctx, routing.CacheFirst, req, bucket, resp, err, false)
	}
	e.store(ctx, bucket, req, resp)
	return &Outcome{Response: resp, Source: SourceNetwork, Strategy: routing.CacheFirst}, nil
}

// NetworkFirst 优先回源，成功则写缓存后返回；失败时依次回退到缓存条目与离线页。
func (e *Executor) NetworkFirst(ctx context.Context, req *fetch.Request, bucket cache.Bucket) (*Outcome, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if failed(resp, err) {
		return e.recover(ctx, routing.NetworkFirst, req, bucket, resp, err, true)
	}
	e.store(ctx, bucket, req, resp)
	return &Outcome{Response: resp, Source: SourceNetwork, Strategy: routing.NetworkFirst}, nil
}

type fetchResult struct {
	resp *cache.Response
	err  error
}

// StaleWhileRevalidate 同时发起查找与回源：命中立即返回，回源结果总是在后台刷新缓存。
func (e *Executor) StaleWhileRevalidate(ctx context.Context, req *fetch.Request, bucket cache.Bucket) (*Outcome, error) {
	results := make(chan fetchResult, 1)
	detached := context.WithoutCancel(ctx)

	e.background.Add(1)
	go func() {
		defer e.background.Done()
		resp, err := e.fetcher.Fetch(detached, req)
		if failed(resp, err) {
			if err != nil {
				e.logger.WithFields(e.fields(req, bucket)).WithError(err).Debug("revalidate_failed")
			}
		} else {
			e.store(detached, bucket, req, resp)
		}
		results <- fetchResult{resp: resp, err: err}
	}()

	if cached := e.lookup(ctx, bucket, req.Key()); cached != nil {
		return &Outcome{Response: cached, Source: SourceCache, Strategy: routing.StaleWhileRevalidate}, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-results:
		if failed(result.resp, result.err) {
			// 缓存已在上面确认未命中，这里只剩离线页可用。
			return e.recover(ctx, routing.StaleWhileRevalidate, req, bucket, result.resp, result.err, false)
		}
		return &Outcome{Response: result.resp, Source: SourceNetwork, Strategy: routing.StaleWhileRevalidate}, nil
	}
}

// Wait 阻塞直到所有后台刷新完成，用于优雅退出与测试。
func (e *Executor) Wait() {
	e.background.Wait()
}

// recover 处理网络失败：可选地查缓存，导航请求再尝试离线页；都没有时返回原始响应或 ErrUnavailable。
func (e *Executor) recover(
	ctx context.Context,
	s routing.Strategy,
	req *fetch.Request,
	bucket cache.Bucket,
	live *cache.Response,
	fetchErr error,
	tryCache bool,
) (*Outcome, error) {
	if tryCache {
		if cached := e.lookup(ctx, bucket, req.Key()); cached != nil {
			return &Outcome{Response: cached, Source: SourceCache, Strategy: s}, nil
		}
	}
	if req.Navigate {
		if offline := e.offline(ctx, bucket, req); offline != nil {
			return &Outcome{Response: offline, Source: SourceFallback, Strategy: s}, nil
		}
	}
	if live != nil {
		return &Outcome{Response: live, Source: SourceNetwork, Strategy: s}, nil
	}
	if fetchErr == nil {
		fetchErr = errors.New("empty response")
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, fetchErr)
}

// offline 返回请求所属 worker 声明的离线文档，req.OfflinePage 为空时没有离线回退。
func (e *Executor) offline(ctx context.Context, bucket cache.Bucket, req *fetch.Request) *cache.Response {
	page := req.OfflinePage
	if page == "" || bucket == nil {
		return nil
	}
	return e.lookup(ctx, bucket, req.WithPath(page).Key())
}

func (e *Executor) lookup(ctx context.Context, bucket cache.Bucket, key cache.Key) *cache.Response {
	if bucket == nil {
		return nil
	}
	resp, err := bucket.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"site":   e.site,
				"bucket": bucket.Name(),
				"key":    key.String(),
			}).Warn("cache_get_failed")
		}
		return nil
	}
	return resp
}

// store 写入可缓存的响应。请求已取消时不再写入，存储失败只记录日志。
func (e *Executor) store(ctx context.Context, bucket cache.Bucket, req *fetch.Request, resp *cache.Response) {
	if bucket == nil || !resp.Cacheable() || req.Method != http.MethodGet {
		return
	}
	if ctx.Err() != nil {
		e.logger.WithFields(e.fields(req, bucket)).Debug("cache_put_skipped")
		return
	}
	if err := bucket.Put(ctx, req.Key(), resp.Clone()); err != nil {
		e.logger.WithFields(e.fields(req, bucket)).WithError(err).Warn("cache_put_failed")
	}
}

func (e *Executor) fields(req *fetch.Request, bucket cache.Bucket) logrus.Fields {
	fields := logrus.Fields{"site": e.site}
	if bucket != nil {
		fields["bucket"] = bucket.Name()
	}
	if req != nil && req.URL != nil {
		fields["url"] = req.URL.String()
	}
	return fields
}

// failed 判定网络失败：传输层错误或源站 5xx。
func failed(resp *cache.Response, err error) bool {
	return err != nil || resp == nil || resp.Status >= http.StatusInternalServerError
}
