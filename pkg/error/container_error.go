package error

import "net/http"

type ContainerUnreachableError string

func (err ContainerUnreachableError) Error() string {
	return string(err)
}

func (err ContainerUnreachableError) ErrCode() string {
	return "CONTAINER_UNREACHABLE"
}

func (err ContainerUnreachableError) StatusCode() int {
	return http.StatusServiceUnavailable
}

type ContainerError string

func (err ContainerError) Error() string {
	return string(err)
}

func (err ContainerError) ErrCode() string {
	return "CONTAINER_ERROR"
}

func (err ContainerError) StatusCode() int {
	return http.StatusServiceUnavailable
}

type ProxyError string

func (err ProxyError) Error() string {
	return string(err)
}

func (err ProxyError) ErrCode() string {
	return "PROXY_ERROR"
}

func (err ProxyError) StatusCode() int {
	return http.StatusInternalServerError
}

type PortsExhaustedError string

func (err PortsExhaustedError) Error() string {
	return string(err)
}

func (err PortsExhaustedError) ErrCode() string {
	return "PORTS_EXHAUSTED"
}

func (err PortsExhaustedError) StatusCode() int {
	return http.StatusInternalServerError
}
