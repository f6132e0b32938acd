package error

import "net/http"

type MissingInstanceIdError string

func (err MissingInstanceIdError) Error() string {
	return string(err)
}

func (err MissingInstanceIdError) ErrCode() string {
	return "MISSING_INSTANCE_ID"
}

func (err MissingInstanceIdError) StatusCode() int {
	return http.StatusBadRequest
}

type InvalidInstanceIdError string

func (err InvalidInstanceIdError) Error() string {
	return string(err)
}

func (err InvalidInstanceIdError) ErrCode() string {
	return "INVALID_INSTANCE_ID"
}

func (err InvalidInstanceIdError) StatusCode() int {
	return http.StatusBadRequest
}

type InstanceNotFoundError string

func (err InstanceNotFoundError) Error() string {
	return string(err)
}

func (err InstanceNotFoundError) ErrCode() string {
	return "DEVICE_NOT_FOUND"
}

func (err InstanceNotFoundError) StatusCode() int {
	return http.StatusNotFound
}

type InstanceNotActiveError string

func (err InstanceNotActiveError) Error() string {
	return string(err)
}

func (err InstanceNotActiveError) ErrCode() string {
	return "DEVICE_NOT_ACTIVE"
}

func (err InstanceNotActiveError) StatusCode() int {
	return http.StatusBadRequest
}

type AlreadyExistsError string

func (err AlreadyExistsError) Error() string {
	return string(err)
}

func (err AlreadyExistsError) ErrCode() string {
	return "CONFLICT"
}

func (err AlreadyExistsError) StatusCode() int {
	return http.StatusConflict
}
