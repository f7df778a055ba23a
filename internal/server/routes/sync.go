package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/logging"
	"github.com/brightway/pwa-edge/internal/server"
	"github.com/brightway/pwa-edge/internal/syncqueue"
)

func registerSyncRoutes(router fiber.Router, logger *logrus.Logger) {
	router.Get("/sync", withSite(func(c fiber.Ctx, site *server.Site) error {
		return c.JSON(fiber.Map{"tags": site.Sync.Tags()})
	}))

	router.Post("/sync/:tag/items", withSite(func(c fiber.Ctx, site *server.Site) error {
		item, err := site.Sync.Enqueue(c.Context(), c.Params("tag"), c.Body())
		if err != nil {
			return renderSyncError(c, err)
		}
		logger.WithFields(logging.SiteFields(site.Name, "")).
			WithFields(logrus.Fields{"tag": item.Tag, "item_id": item.ID}).
			Info("sync_enqueued")
		return c.Status(fiber.StatusAccepted).JSON(item)
	}))

	router.Get("/sync/:tag", withSite(func(c fiber.Ctx, site *server.Site) error {
		items, err := site.Sync.Pending(c.Context(), c.Params("tag"))
		if err != nil {
			return renderSyncError(c, err)
		}
		return c.JSON(fiber.Map{"tag": c.Params("tag"), "items": items})
	}))

	router.Post("/sync/:tag", withSite(func(c fiber.Ctx, site *server.Site) error {
		result, err := site.Sync.Sync(c.Context(), c.Params("tag"))
		if err != nil {
			return renderSyncError(c, err)
		}
		return c.JSON(result)
	}))
}

func renderSyncError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, syncqueue.ErrUnknownTag):
		return renderError(c, fiber.StatusNotFound, "unknown_tag")
	case errors.Is(err, syncqueue.ErrInvalidPayload):
		return renderError(c, fiber.StatusBadRequest, "invalid_payload")
	default:
		return renderError(c, fiber.StatusInternalServerError, "sync_failed")
	}
}
