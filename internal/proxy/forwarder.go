package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/logging"
	"github.com/brightway/pwa-edge/internal/server"
)

// Forwarder 包装站点 ProxyHandler：handler 缺失或 panic 时返回结构化错误，而不是让连接中断。
type Forwarder struct {
	handler server.ProxyHandler
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder。
func NewForwarder(handler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, site *server.Site) error {
	requestID := server.RequestID(c)
	if f.handler == nil {
		return f.respondMissingHandler(c, site, requestID)
	}
	return f.invokeHandler(c, site, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, site *server.Site, requestID string) error {
	f.logHandlerError(site, "proxy_handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "proxy_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, site *server.Site, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, site, r, requestID)
		}
	}()
	return f.handler.Handle(c, site)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, site *server.Site, recovered interface{}, requestID string) error {
	f.logHandlerError(site, "proxy_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "proxy_handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set(server.HeaderRequestID, requestID)
	}
}

func (f *Forwarder) logHandlerError(site *server.Site, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := f.siteFields(site, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("proxy handler unavailable")
}

func (f *Forwarder) siteFields(site *server.Site, requestID string) logrus.Fields {
	var fields logrus.Fields
	if site == nil {
		fields = logging.RequestFields("", "", "", "", "", false)
	} else {
		version := ""
		if worker := site.Registration.Controller(); worker != nil {
			version = worker.Version()
		}
		fields = logging.RequestFields(site.Name, site.Domain, version, "", "", false)
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
