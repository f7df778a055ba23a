package routes

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/logging"
	"github.com/brightway/pwa-edge/internal/push"
	"github.com/brightway/pwa-edge/internal/server"
)

type attachRequest struct {
	URL string `json:"url"`
}

func registerNotificationRoutes(router fiber.Router, logger *logrus.Logger) {
	router.Post("/push", withSite(func(c fiber.Ctx, site *server.Site) error {
		payload, err := push.ParsePayload(c.Body())
		if err != nil {
			return renderError(c, fiber.StatusBadRequest, "invalid_payload")
		}
		return c.Status(fiber.StatusCreated).JSON(site.Push.Show(payload))
	}))

	router.Get("/notifications", withSite(func(c fiber.Ctx, site *server.Site) error {
		return c.JSON(fiber.Map{"notifications": site.Push.List()})
	}))

	router.Post("/notifications/:id/click", withSite(func(c fiber.Ctx, site *server.Site) error {
		result, err := site.Push.Click(c.Params("id"), c.Query("action"))
		if errors.Is(err, push.ErrNotificationNotFound) {
			return renderError(c, fiber.StatusNotFound, "notification_not_found")
		}
		if err != nil {
			return renderError(c, fiber.StatusInternalServerError, "click_failed")
		}
		return c.JSON(result)
	}))

	router.Post("/clients", withSite(func(c fiber.Ctx, site *server.Site) error {
		var req attachRequest
		if body := c.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return renderError(c, fiber.StatusBadRequest, "invalid_client")
			}
		}
		target := site.Scope.String()
		if strings.TrimSpace(req.URL) != "" {
			ref, err := url.Parse(req.URL)
			if err != nil {
				return renderError(c, fiber.StatusBadRequest, "invalid_client")
			}
			target = site.Scope.ResolveReference(ref).String()
		}
		controller := ""
		if worker := site.Registration.Controller(); worker != nil {
			controller = worker.Version()
		}
		client := site.Registration.Clients().Attach(target, controller)
		logger.WithFields(logging.SiteFields(site.Name, controller)).
			WithFields(logrus.Fields{"client_id": client.ID, "url": target}).
			Debug("client_attached")
		return c.Status(fiber.StatusCreated).JSON(client)
	}))

	router.Get("/clients", withSite(func(c fiber.Ctx, site *server.Site) error {
		return c.JSON(fiber.Map{"clients": site.Registration.Clients().List()})
	}))

	router.Delete("/clients/:id", withSite(func(c fiber.Ctx, site *server.Site) error {
		if !site.Registration.Clients().Detach(c.Params("id")) {
			return renderError(c, fiber.StatusNotFound, "client_not_found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}))
}
