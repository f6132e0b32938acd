package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	pkgError "github.com/hashfleet/wagateway/pkg/error"
	"github.com/hashfleet/wagateway/pkg/utils"
)

// Recovery is the last-resort net for panics that escape a handler. Normal
// failures travel as returned errors and are adapted by ErrorHandler.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("[API] Panic recovered: %v", r)

				status := fiber.StatusInternalServerError
				code := "INTERNAL_ERROR"
				message := fmt.Sprintf("%v", r)

				if genericErr, ok := r.(pkgError.GenericError); ok {
					status = genericErr.StatusCode()
					code = genericErr.ErrCode()
					message = genericErr.Error()
				}

				_ = ctx.Status(status).JSON(utils.ResponseData{
					Success: false,
					Message: message,
					Error:   code,
				})
			}
		}()

		return ctx.Next()
	}
}

// ErrorHandler adapts errors returned by handlers into the JSON envelope.
// Typed errors carry their own status and code; everything else is a 500.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := err.Error()

	if genericErr, ok := err.(pkgError.GenericError); ok {
		status = genericErr.StatusCode()
		code = genericErr.ErrCode()
	} else if fiberErr, ok := err.(*fiber.Error); ok {
		status = fiberErr.Code
		code = "HTTP_ERROR"
	}

	if status >= 500 {
		logrus.WithError(err).Errorf("[API] %s %s failed", ctx.Method(), ctx.Path())
	}

	return ctx.Status(status).JSON(utils.ResponseData{
		Success: false,
		Message: message,
		Error:   code,
	})
}
