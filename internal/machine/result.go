package machine

import "net/http"

// StatusCode is the outcome of an engine operation as reported to clients.
type StatusCode string

// Result status codes.
const (
	CodeOK                  StatusCode = "OK"
	CodeBadRequest          StatusCode = "BAD_REQUEST"
	CodeUnauthorized        StatusCode = "UNAUTHORIZED"
	CodeNotFound            StatusCode = "NOT_FOUND"
	CodeHardwareError       StatusCode = "HARDWARE_ERROR"
	CodeInternalServerError StatusCode = "INTERNAL_SERVER_ERROR"
)

// HTTPStatus maps the code onto an HTTP status.
func (c StatusCode) HTTPStatus() int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeHardwareError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Result is returned by every engine operation. Machine is nil for
// NOT_FOUND and INTERNAL_SERVER_ERROR.
type Result struct {
	StatusCode StatusCode `json:"statusCode"`
	Machine    *Machine   `json:"machine,omitempty"`
}

func resultOf(code StatusCode, m *Machine) Result {
	return Result{StatusCode: code, Machine: m}
}

// InternalError is the result for requests the engine could not serve.
func InternalError() Result {
	return Result{StatusCode: CodeInternalServerError}
}
