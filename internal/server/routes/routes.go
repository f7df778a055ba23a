package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/server"
)

// Control 返回挂到 server.ControlPrefix 分组上的控制端点注册函数。
// 站点已由路由中间件按 Host 解析，这里只取用。
func Control(logger *logrus.Logger) func(fiber.Router) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(router fiber.Router) {
		registerLifecycleRoutes(router, logger)
		registerNotificationRoutes(router, logger)
		registerSyncRoutes(router, logger)
	}
}

// withSite 取出当前请求的站点后调用 fn。
func withSite(fn func(fiber.Ctx, *server.Site) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		site, ok := server.CurrentSite(c)
		if !ok {
			return renderError(c, fiber.StatusNotFound, "host_unmapped")
		}
		return fn(c, site)
	}
}

func renderError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
