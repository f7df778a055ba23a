package routes

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/lifecycle"
	"github.com/brightway/pwa-edge/internal/logging"
	"github.com/brightway/pwa-edge/internal/server"
)

type workerPayload struct {
	ID      string          `json:"id"`
	Version string          `json:"version"`
	Bucket  string          `json:"bucket"`
	State   lifecycle.State `json:"state"`
}

// lifecyclePayload 平铺 Snapshot 字段，notifier.HTTPClient 直接按 Snapshot 解码。
type lifecyclePayload struct {
	Site  string `json:"site"`
	Scope string `json:"scope"`
	lifecycle.Snapshot
	UpdateReady bool           `json:"updateReady"`
	Controller  *workerPayload `json:"controller,omitempty"`
}

type bucketPayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

func registerLifecycleRoutes(router fiber.Router, logger *logrus.Logger) {
	router.Get("/lifecycle", withSite(func(c fiber.Ctx, site *server.Site) error {
		snap := site.Registration.Snapshot()
		payload := lifecyclePayload{
			Site:        site.Name,
			Scope:       site.Scope.String(),
			Snapshot:    snap,
			UpdateReady: snap.UpdateReady(),
		}
		if worker := site.Registration.Controller(); worker != nil {
			payload.Controller = &workerPayload{
				ID:      worker.ID(),
				Version: worker.Version(),
				Bucket:  worker.Script().Bucket,
				State:   worker.State(),
			}
		}
		return c.JSON(payload)
	}))

	router.Post("/lifecycle/messages", withSite(func(c fiber.Ctx, site *server.Site) error {
		var msg lifecycle.Message
		if err := json.Unmarshal(c.Body(), &msg); err != nil {
			return renderError(c, fiber.StatusBadRequest, "invalid_message")
		}
		if msg.Type != lifecycle.MessageSkipWaiting {
			return renderError(c, fiber.StatusBadRequest, "unsupported_message")
		}

		worker, err := site.Registration.SkipWaiting(c.Context())
		fields := logging.SiteFields(site.Name, "")
		fields["action"] = "skip_waiting"
		fields["request_id"] = server.RequestID(c)
		switch {
		case errors.Is(err, lifecycle.ErrNoWaitingWorker):
			return renderError(c, fiber.StatusConflict, "no_waiting_worker")
		case err != nil:
			logger.WithFields(fields).WithError(err).Error("skip_waiting_failed")
			return renderError(c, fiber.StatusInternalServerError, "activate_failed")
		}
		fields["version"] = worker.Version()
		logger.WithFields(fields).Info("skip_waiting")
		return c.JSON(fiber.Map{"active": worker.Version()})
	}))

	router.Get("/buckets", withSite(func(c fiber.Ctx, site *server.Site) error {
		infos, err := site.Store.Inspect(c.Context())
		if err != nil {
			return renderError(c, fiber.StatusInternalServerError, "storage_failed")
		}
		current := ""
		if worker := site.Registration.Controller(); worker != nil {
			current = worker.Script().Bucket
		}
		result := make([]bucketPayload, 0, len(infos))
		for _, info := range infos {
			result = append(result, bucketPayload{Name: info.Name, Entries: info.Entries, Current: info.Name == current})
		}
		return c.JSON(fiber.Map{"buckets": result})
	}))
}
