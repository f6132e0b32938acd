package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hashfleet/wagateway/config"
)

type App struct {
	Config *config.Config
}

// InitRestApp registers the gateway-local app routes. Must run before the
// proxy catch-all so /api/app/version is answered here, not by a worker.
func InitRestApp(app fiber.Router, cfg *config.Config) App {
	handler := App{Config: cfg}

	app.Get("/api/app/version", handler.GetVersion)

	return handler
}

func (h *App) GetVersion(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version": h.Config.App.Version,
		"os":      h.Config.App.OS,
	})
}
