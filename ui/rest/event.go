package rest

import (
	"github.com/gofiber/fiber/v2"

	domainDevice "github.com/hashfleet/wagateway/domains/device"
	"github.com/hashfleet/wagateway/pkg/utils"
	"github.com/hashfleet/wagateway/ui/rest/middleware"
	"github.com/hashfleet/wagateway/usecase"
)

type Event struct {
	Service usecase.IEventUsecase
}

// InitRestEvent registers the internal ingress workers use to report
// lifecycle events. Resolution accepts the hash in the body alongside the
// header form.
func InitRestEvent(app fiber.Router, service usecase.IEventUsecase, store domainDevice.IDeviceStore) Event {
	handler := Event{Service: service}

	app.Post("/api/events", middleware.ResolveInstance(store), handler.Receive)

	return handler
}

func (h *Event) Receive(c *fiber.Ctx) error {
	hash := middleware.DeviceFromCtx(c).Hash

	var event domainDevice.ContainerEvent
	if err := c.BodyParser(&event); err != nil {
		return pkgValidationError(err)
	}

	status, err := h.Service.Handle(c.UserContext(), hash, event)
	if err != nil {
		return err
	}

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Event processed",
		Results: fiber.Map{"status": status},
	})
}
