package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/cache"
	"github.com/brightway/pwa-edge/internal/fetch"
	"github.com/brightway/pwa-edge/internal/lifecycle"
	"github.com/brightway/pwa-edge/internal/logging"
	"github.com/brightway/pwa-edge/internal/routing"
	"github.com/brightway/pwa-edge/internal/server"
	"github.com/brightway/pwa-edge/internal/strategy"
	"github.com/brightway/pwa-edge/internal/version"
)

// 响应头，便于观察每个请求走的策略与缓存来源。
const (
	headerCache    = "X-Pwa-Edge-Cache"
	headerStrategy = "X-Pwa-Edge-Strategy"
	headerVersion  = "X-Pwa-Edge-Version"
)

// sourcePassthrough 标记未被拦截、原样转发的请求。
const sourcePassthrough = "passthrough"

// Handler 站在浏览器 worker 的 fetch 拦截位置：由控制 worker 的路由器分类，
// 被拦截的请求交给站点的策略执行器，其余请求原样转发给源站。
type Handler struct {
	client *http.Client
	logger *logrus.Logger
}

// NewHandler constructs a proxy handler with the shared upstream client and logger.
func NewHandler(client *http.Client, logger *logrus.Logger) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		client: client,
		logger: logger,
	}
}

// Handle 对一个请求只读取一次控制 worker，整个处理过程使用同一个 worker 的路由表与缓存桶。
func (h *Handler) Handle(c fiber.Ctx, site *server.Site) error {
	started := time.Now()
	requestID := server.RequestID(c)
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	public := publicURL(site, c)
	header := fiberHeadersAsHTTP(c)
	method := c.Method()

	worker := site.Registration.Controller()
	if worker == nil {
		return h.passthrough(c, site, nil, public, requestID, started, "uncontrolled")
	}

	navigate := routing.IsNavigation(method, header)
	decision := worker.Router().Classify(routing.Request{
		Method:   method,
		URL:      public,
		Navigate: navigate,
	})
	if !decision.Intercept {
		return h.passthrough(c, site, worker, public, requestID, started, decision.Reason)
	}

	req := &fetch.Request{
		Method:      method,
		URL:         public,
		Header:      header,
		Navigate:    navigate,
		OfflinePage: worker.Script().OfflinePage,
	}
	outcome, err := site.Executor.Execute(ctx, decision.Strategy, req, worker.Bucket())
	if err != nil {
		h.logResult(site, worker, req, decision.Strategy.String(), "", requestID, 0, started, err)
		c.Set(headerStrategy, decision.Strategy.String())
		c.Set(headerVersion, worker.Version())
		switch {
		case errors.Is(err, strategy.ErrUnavailable):
			return h.writeError(c, fiber.StatusBadGateway, "network_failed")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return h.writeError(c, fiber.StatusGatewayTimeout, "request_cancelled")
		default:
			return h.writeError(c, fiber.StatusInternalServerError, "strategy_failed")
		}
	}

	h.writeResponse(c, outcome.Response)
	c.Set(headerCache, string(outcome.Source))
	c.Set(headerStrategy, outcome.Strategy.String())
	c.Set(headerVersion, worker.Version())
	if requestID != "" {
		c.Set(server.HeaderRequestID, requestID)
	}
	h.logResult(site, worker, req, outcome.Strategy.String(), string(outcome.Source), requestID, outcome.Response.Status, started, nil)
	return nil
}

// writeResponse 输出缓存快照或网络响应；HEAD 之外的请求都会带正文。
func (h *Handler) writeResponse(c fiber.Ctx, resp *cache.Response) {
	copyResponseHeaders(c, resp.Header)
	c.Status(resp.Status)
	if c.Method() == http.MethodHead {
		return
	}
	c.Response().SetBodyRaw(resp.Body)
}

// passthrough 不经过缓存，直接把请求转发到源站并流式返回。
func (h *Handler) passthrough(
	c fiber.Ctx,
	site *server.Site,
	worker *lifecycle.Worker,
	public *url.URL,
	requestID string,
	started time.Time,
	reason string,
) error {
	upstream := site.Fetcher.Resolve(public)
	req, err := h.buildUpstreamRequest(c, upstream, public)
	if err != nil {
		return h.writeError(c, fiber.StatusBadGateway, "upstream_request_invalid")
	}

	view := &fetch.Request{Method: c.Method(), URL: public}
	resp, err := h.client.Do(req)
	if err != nil {
		h.logResult(site, worker, view, reason, sourcePassthrough, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "network_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(headerCache, sourcePassthrough)
	if worker != nil {
		c.Set(headerVersion, worker.Version())
	}
	if requestID != "" {
		c.Set(server.HeaderRequestID, requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(site, worker, view, reason, sourcePassthrough, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(site, worker, view, reason, sourcePassthrough, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) buildUpstreamRequest(c fiber.Ctx, upstream, public *url.URL) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	fetch.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("X-Forwarded-Host", public.Host)
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Scheme())
	req.Header.Add("Via", version.Via())
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	site *server.Site,
	worker *lifecycle.Worker,
	req *fetch.Request,
	strategyName string,
	source string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	version := ""
	if worker != nil {
		version = worker.Version()
	}
	fields := logging.RequestFields(site.Name, site.Domain, version, strategyName, source, req.Navigate)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["url"] = req.URL.String()
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// publicURL 以站点作用域为基准还原客户端看到的地址，与预缓存键保持一致。
func publicURL(site *server.Site, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	relative := &url.URL{Path: normalizeRequestPath(string(uri.Path()))}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	return site.Scope.ResolveReference(relative)
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if clean != "/" && raw[len(raw)-1] == '/' {
		clean += "/"
	}
	return clean
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
