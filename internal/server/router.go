package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ControlPrefix 是控制端点的路径前缀，前缀下的请求不会交给拦截处理器。
const ControlPrefix = "/-"

const (
	// HeaderRequestID 回写本次请求的标识。
	HeaderRequestID = "X-Request-ID"
	// HeaderSite 回写处理本次请求的站点名。
	HeaderSite = "X-Pwa-Edge-Site"
	// HeaderUnmappedHost 在 Host 无法匹配站点时回写原始 Host。
	HeaderUnmappedHost = "X-Pwa-Edge-Host"
)

const contextKeyScope = "_pwaedge_scope"

// ProxyHandler intercepts site traffic on behalf of the controlling worker.
type ProxyHandler interface {
	Handle(fiber.Ctx, *Site) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *Site) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, site *Site) error {
	return f(c, site)
}

// AppOptions 描述边缘服务的 Fiber 应用。Control 可为空，不为空时在 ControlPrefix
// 分组上注册控制端点。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SiteRegistry
	Proxy      ProxyHandler
	Control    func(fiber.Router)
	ListenPort int
}

// requestScope 是中间件为单个请求解析出的上下文。
// fasthttp 在请求结束时会关闭实现 io.Closer 的 user value，*Site 实现了它，所以不能直接放进 Locals。
type requestScope struct {
	id   string
	site *Site
}

// NewApp 组装边缘服务：先按 Host 解析站点，控制端点挂在 ControlPrefix 下，
// 其余请求全部交给 ProxyHandler。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(resolveSite(opts))

	if opts.Control != nil {
		opts.Control(app.Group(ControlPrefix))
	}
	app.All(ControlPrefix+"/*", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown_control_path",
		})
	})

	app.All("/*", func(c fiber.Ctx) error {
		site, ok := CurrentSite(c)
		if !ok {
			return renderHostUnmapped(c, opts.Logger, "", opts.ListenPort)
		}
		return opts.Proxy.Handle(c, site)
	})

	return app, nil
}

// resolveSite 为请求分配 ID 并按 Host 查找站点，找不到时直接返回 404，
// 控制端点与拦截流量都不会继续执行。
func resolveSite(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := uuid.NewString()
		c.Set(HeaderRequestID, id)

		host := strings.TrimSpace(hostHeader(c))
		site, ok := opts.Registry.Lookup(host)
		if !ok {
			BindRequest(c, id, nil)
			return renderHostUnmapped(c, opts.Logger, host, opts.ListenPort)
		}
		BindRequest(c, id, site)
		c.Set(HeaderSite, site.Name)
		return c.Next()
	}
}

func renderHostUnmapped(c fiber.Ctx, logger *logrus.Logger, host string, port int) error {
	logger.WithFields(logrus.Fields{
		"action":     "host_lookup",
		"host":       host,
		"port":       port,
		"request_id": RequestID(c),
	}).Warn("host unmapped")

	if host != "" {
		c.Set(HeaderUnmappedHost, host)
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "host_unmapped",
	})
}

func hostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

// BindRequest 记录请求 ID 与解析出的站点，site 可为空。
func BindRequest(c fiber.Ctx, id string, site *Site) {
	c.Locals(contextKeyScope, requestScope{id: id, site: site})
}

func scopeOf(c fiber.Ctx) requestScope {
	scope, _ := c.Locals(contextKeyScope).(requestScope)
	return scope
}

// CurrentSite returns the site resolved from the request Host.
func CurrentSite(c fiber.Ctx) (*Site, bool) {
	site := scopeOf(c).site
	return site, site != nil
}

// RequestID returns the identifier assigned to the request.
func RequestID(c fiber.Ctx) string {
	return scopeOf(c).id
}
