package middleware

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/hashfleet/wagateway/domains/device"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
	"github.com/hashfleet/wagateway/pkg/utils"
)

// Locals keys populated by ResolveInstance.
const (
	LocalDevice     = "device"
	LocalInstanceID = "instanceId"
)

// extractInstanceHash reads the hash from, in order, the x-instance-id
// header, an instance_id field in a JSON body, and the instance_id query
// parameter.
func extractInstanceHash(ctx *fiber.Ctx) string {
	if hash := ctx.Get("x-instance-id"); hash != "" {
		return hash
	}

	if len(ctx.Body()) > 0 {
		var body struct {
			InstanceID string `json:"instance_id"`
		}
		if err := json.Unmarshal(ctx.Body(), &body); err == nil && body.InstanceID != "" {
			return body.InstanceID
		}
	}

	return ctx.Query("instance_id")
}

// ResolveInstance validates the inbound instance hash and attaches the
// matching record to the request context. The store front is the in-memory
// cache, so the hot path never touches the database.
func ResolveInstance(store device.IDeviceStore) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		hash := extractInstanceHash(ctx)
		if hash == "" {
			return pkgError.MissingInstanceIdError("instance id is required (x-instance-id header, instance_id body field, or instance_id query)")
		}
		if !utils.IsValidInstanceHash(hash) {
			return pkgError.InvalidInstanceIdError("instance id must be 16 hexadecimal characters")
		}

		dev, err := store.FindByHash(ctx.UserContext(), hash)
		if err != nil {
			return err
		}
		if dev == nil {
			return pkgError.InstanceNotFoundError("device not found: " + hash)
		}

		ctx.Locals(LocalDevice, dev)
		ctx.Locals(LocalInstanceID, dev.Hash)
		return ctx.Next()
	}
}

// DeviceFromCtx returns the record ResolveInstance attached, or nil when the
// route skipped resolution.
func DeviceFromCtx(ctx *fiber.Ctx) *device.Device {
	dev, _ := ctx.Locals(LocalDevice).(*device.Device)
	return dev
}

var proxyStatuses = map[device.Status]bool{
	device.StatusActive:    true,
	device.StatusConnected: true,
}

var loginStatuses = map[device.Status]bool{
	device.StatusActive:    true,
	device.StatusConnected: true,
	device.StatusWaitingQR: true,
}

func ensureStatus(accepted map[device.Status]bool) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		dev := DeviceFromCtx(ctx)
		if dev == nil {
			return pkgError.InternalServerError("instance not resolved before status guard")
		}
		if !accepted[dev.Status] {
			return pkgError.InstanceNotActiveError("instance " + dev.Hash + " is " + string(dev.Status) + ", expected an active worker")
		}
		return ctx.Next()
	}
}

// EnsureActive admits general API proxying only for instances whose worker
// is up and usable.
func EnsureActive() fiber.Handler {
	return ensureStatus(proxyStatuses)
}

// EnsureActiveOrWaitingQR additionally admits waiting_qr, for the login/QR
// flow where the worker is up but the session is not yet paired.
func EnsureActiveOrWaitingQR() fiber.Handler {
	return ensureStatus(loginStatuses)
}
