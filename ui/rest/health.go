package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hashfleet/wagateway/infrastructure/supervisor"
	"github.com/hashfleet/wagateway/pkg/utils"
)

type Health struct {
	Supervisor *supervisor.Supervisor
	startedAt  time.Time
}

func InitRestHealth(app fiber.Router, sup *supervisor.Supervisor) Health {
	handler := Health{Supervisor: sup, startedAt: time.Now()}

	app.Get("/api/health", handler.GetStatus)

	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Gateway is healthy",
		Results: fiber.Map{
			"uptime":         time.Since(h.startedAt).Round(time.Second).String(),
			"runningWorkers": len(h.Supervisor.ListAll()),
		},
	})
}
