package error

// GenericError is implemented by every error the HTTP boundary knows how to
// render. Anything else is reported as INTERNAL_ERROR.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}
