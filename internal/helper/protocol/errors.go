package protocol

import "net/http"

// Error codes for protocol responses.
const (
	// ErrCodeInvalidRequest indicates the request was malformed.
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	// ErrCodeInvalidCommand indicates an unknown command was sent.
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	// ErrCodeInvalidParams indicates the command parameters were invalid.
	ErrCodeInvalidParams = "INVALID_PARAMS"
	// ErrCodeInvalidState indicates the operation is not allowed in the current state.
	ErrCodeInvalidState = "INVALID_STATE"
	// ErrCodeMessageTooLarge indicates a request line exceeded the size limit.
	ErrCodeMessageTooLarge = "MESSAGE_TOO_LARGE"
	// ErrCodeScanFailed indicates the network scan failed.
	ErrCodeScanFailed = "SCAN_FAILED"
	// ErrCodeInterfacesFailed indicates the interface listing failed.
	ErrCodeInterfacesFailed = "INTERFACES_FAILED"
	// ErrCodeConnectFailed indicates the Wi-Fi connection attempt failed.
	ErrCodeConnectFailed = "CONNECT_FAILED"
	// ErrCodeMonitorFailed indicates a monitoring session could not be started.
	ErrCodeMonitorFailed = "MONITOR_FAILED"
	// ErrCodeSessionNotFound indicates no monitoring session matched.
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	// ErrCodeInternalError indicates an unexpected internal error.
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// defaultStatus maps error codes to the status shown to users when the
// handler did not pick a more specific one.
var defaultStatus = map[string]int{
	ErrCodeInvalidRequest:   http.StatusBadRequest,
	ErrCodeInvalidCommand:   http.StatusBadRequest,
	ErrCodeInvalidParams:    http.StatusBadRequest,
	ErrCodeInvalidState:     http.StatusConflict,
	ErrCodeMessageTooLarge:  http.StatusRequestEntityTooLarge,
	ErrCodeScanFailed:       http.StatusInternalServerError,
	ErrCodeInterfacesFailed: http.StatusInternalServerError,
	ErrCodeConnectFailed:    http.StatusInternalServerError,
	ErrCodeMonitorFailed:    http.StatusInternalServerError,
	ErrCodeSessionNotFound:  http.StatusNotFound,
	ErrCodeInternalError:    http.StatusInternalServerError,
}

// StatusForCode returns the default display status for code.
func StatusForCode(code string) int {
	if s, ok := defaultStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}
