package rest

import (
	pkgError "github.com/hashfleet/wagateway/pkg/error"
)

func pkgValidationError(err error) error {
	return pkgError.ValidationError("invalid request body: " + err.Error())
}
