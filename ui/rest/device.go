package rest

import (
	"github.com/gofiber/fiber/v2"

	domainDevice "github.com/hashfleet/wagateway/domains/device"
	"github.com/hashfleet/wagateway/pkg/utils"
	"github.com/hashfleet/wagateway/ui/rest/middleware"
	"github.com/hashfleet/wagateway/validations"
)

type Device struct {
	Service domainDevice.IDeviceUsecase
	Store   domainDevice.IDeviceStore
}

func InitRestDevice(app fiber.Router, service domainDevice.IDeviceUsecase, store domainDevice.IDeviceStore) Device {
	handler := Device{Service: service, Store: store}

	group := app.Group("/api/devices")
	group.Post("/", handler.Register)
	group.Get("/", handler.List)
	group.Get("/stats", handler.Stats)

	resolved := group.Group("", middleware.ResolveInstance(store))
	resolved.Get("/info", handler.Info)
	resolved.Put("/", handler.Update)
	resolved.Delete("/", handler.Remove)
	resolved.Post("/start", handler.Start)
	resolved.Post("/stop", handler.Stop)
	resolved.Post("/restart", handler.Restart)

	return handler
}

func (h *Device) Register(c *fiber.Ctx) error {
	var request domainDevice.RegisterRequest
	if err := c.BodyParser(&request); err != nil {
		return pkgValidationError(err)
	}
	if err := validations.ValidateRegisterDevice(c.UserContext(), request); err != nil {
		return err
	}

	dev, err := h.Service.Register(c.UserContext(), request)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Success: true,
		Message: "Instance registered",
		Results: dev,
	})
}

func (h *Device) List(c *fiber.Ctx) error {
	filter := domainDevice.ListFilter{
		Status: domainDevice.Status(c.Query("status")),
		Limit:  c.QueryInt("limit"),
		Offset: c.QueryInt("offset"),
	}

	devices, err := h.Service.List(c.UserContext(), filter)
	if err != nil {
		return err
	}

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Instances retrieved",
		Results: devices,
	})
}

func (h *Device) Stats(c *fiber.Ctx) error {
	stats, err := h.Service.Stats(c.UserContext())
	if err != nil {
		return err
	}

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Instance stats retrieved",
		Results: stats,
	})
}

func (h *Device) Info(c *fiber.Ctx) error {
	dev := middleware.DeviceFromCtx(c)

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Instance info retrieved",
		Results: dev,
	})
}

func (h *Device) Update(c *fiber.Ctx) error {
	dev := middleware.DeviceFromCtx(c)

	var request domainDevice.UpdateRequest
	if err := c.BodyParser(&request); err != nil {
		return pkgValidationError(err)
	}
	if err := validations.ValidateUpdateDevice(c.UserContext(), request); err != nil {
		return err
	}

	updated, err := h.Service.Update(c.UserContext(), dev.Hash, request)
	if err != nil {
		return err
	}

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Instance updated",
		Results: updated,
	})
}

func (h *Device) Remove(c *fiber.Ctx) error {
	dev := middleware.DeviceFromCtx(c)
	force := c.QueryBool("force")

	if err := h.Service.Remove(c.UserContext(), dev.Hash, force); err != nil {
		return err
	}

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Instance removed",
	})
}

func (h *Device) Start(c *fiber.Ctx) error {
	dev, err := h.Service.Start(c.UserContext(), middleware.DeviceFromCtx(c).Hash)
	if err != nil {
		return err
	}

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Worker started",
		Results: dev,
	})
}

func (h *Device) Stop(c *fiber.Ctx) error {
	dev, err := h.Service.Stop(c.UserContext(), middleware.DeviceFromCtx(c).Hash)
	if err != nil {
		return err
	}

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Worker stopped",
		Results: dev,
	})
}

func (h *Device) Restart(c *fiber.Ctx) error {
	dev, err := h.Service.Restart(c.UserContext(), middleware.DeviceFromCtx(c).Hash)
	if err != nil {
		return err
	}

	return c.JSON(utils.ResponseData{
		Success: true,
		Message: "Worker restarted",
		Results: dev,
	})
}
