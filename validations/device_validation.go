package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	domainDevice "github.com/hashfleet/wagateway/domains/device"
	pkgError "github.com/hashfleet/wagateway/pkg/error"
)

func ValidateRegisterDevice(ctx context.Context, request domainDevice.RegisterRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.PhoneNumber, validation.Required, is.Digit, validation.Length(7, 15)),
		validation.Field(&request.Name, validation.Length(0, 100)),
		validation.Field(&request.WebhookURL, is.URL),
		validation.Field(&request.StatusWebhookURL, is.URL),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateUpdateDevice(ctx context.Context, request domainDevice.UpdateRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Name, validation.Length(0, 100)),
		validation.Field(&request.WebhookURL, is.URL),
		validation.Field(&request.StatusWebhookURL, is.URL),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
