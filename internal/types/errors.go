package types

import "errors"

// Failure classes shared across the bench core. Concrete errors wrap one of
// these so callers can sort transport faults from operator mistakes with
// errors.Is without inspecting message text.
var (
	// ErrConnectivity marks faults of the Modbus transport or of a device
	// behind it: exhausted reconnects, rejected writes, a sensor that left
	// IO-Link mode.
	ErrConnectivity = errors.New("connectivity error")

	// ErrConfiguration marks faults in operator-supplied data: unknown
	// valve ids, ports outside the master's range, missing calibration.
	ErrConfiguration = errors.New("configuration error")
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
