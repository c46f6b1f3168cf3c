package errutil

import "errors"

// CoreStatus is the transport-agnostic error classification carried by BaseError.
type CoreStatus string

const (
	StatusUnknown            CoreStatus = "UNKNOWN"
	StatusBadRequest         CoreStatus = "BAD_REQUEST"
	StatusValidationFailed   CoreStatus = "VALIDATION_FAILED"
	StatusNotFound           CoreStatus = "NOT_FOUND"
	StatusConflict           CoreStatus = "CONFLICT"
	StatusTimeout            CoreStatus = "TIMEOUT"
	StatusInternal           CoreStatus = "INTERNAL"
	StatusBadGateway         CoreStatus = "BAD_GATEWAY"
	StatusServiceUnavailable CoreStatus = "SERVICE_UNAVAILABLE"
)

// StatusOf extracts the CoreStatus from err, walking the wrap chain.
// Errors outside the taxonomy report StatusUnknown.
func StatusOf(err error) CoreStatus {
	if err == nil {
		return StatusUnknown
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return coder.Status()
	}

	return StatusUnknown
}
