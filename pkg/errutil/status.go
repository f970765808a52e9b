package errutil

import "errors"

// CoreStatus is the transport-agnostic status attached to a BaseError.
type CoreStatus string

const (
	StatusBadRequest         CoreStatus = "BAD_REQUEST"
	StatusValidationFailed   CoreStatus = "VALIDATION_FAILED"
	StatusNotFound           CoreStatus = "NOT_FOUND"
	StatusConflict           CoreStatus = "CONFLICT"
	StatusTimeout            CoreStatus = "TIMEOUT"
	StatusServiceUnavailable CoreStatus = "SERVICE_UNAVAILABLE"
	StatusBadGateway         CoreStatus = "BAD_GATEWAY"
	StatusInternal           CoreStatus = "INTERNAL"
	StatusUnknown            CoreStatus = "UNKNOWN"
)

// HasStatus reports whether err carries the given CoreStatus.
func HasStatus(err error, status CoreStatus) bool {
	var be BaseError
	return errors.As(err, &be) && be.Code == status
}
