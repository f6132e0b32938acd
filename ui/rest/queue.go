package rest

import (
	"github.com/gofiber/fiber/v2"

	domainDevice "github.com/hashfleet/wagateway/domains/device"
	"github.com/hashfleet/wagateway/pkg/sendqueue"
	"github.com/hashfleet/wagateway/pkg/utils"
	"github.com/hashfleet/wagateway/ui/rest/middleware"
)

type Queue struct {
	Queues *sendqueue.Manager
}

func InitRestQueue(app fiber.Router, queues *sendqueue.Manager, store domainDevice.IDeviceStore) Queue {
	handler := Queue{Queues: queues}

	group := app.Group("/api/queue", middleware.ResolveInstance(store))
	group.Get("/status", handler.GetStatus)
	group.Post("/pause", handler.Pause)
	group.Post("/resume", handler.Resume)
	group.Post("/clear", handler.Clear)

	return handler
}

func (h *Queue) GetStatus(c *fiber.Ctx) error {
	hash := middleware.DeviceFromCtx(c).Hash

	status, ok := h.Queues.GetStatus(hash)
	if !ok {
		// No sends yet for this instance; report an empty queue.
		status = sendqueue.Status{}
	}

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Queue status retrieved",
		Results: status,
	})
}

func (h *Queue) Pause(c *fiber.Ctx) error {
	hash := middleware.DeviceFromCtx(c).Hash
	h.Queues.Pause(hash)

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Queue paused",
	})
}

func (h *Queue) Resume(c *fiber.Ctx) error {
	hash := middleware.DeviceFromCtx(c).Hash
	h.Queues.Resume(hash)

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Queue resumed",
	})
}

func (h *Queue) Clear(c *fiber.Ctx) error {
	hash := middleware.DeviceFromCtx(c).Hash
	dropped := h.Queues.Clear(hash)

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Queue cleared",
		Results: fiber.Map{"dropped": dropped},
	})
}
