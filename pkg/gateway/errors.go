package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 4 << 10

var (
	// ErrProvisioningTimeout is returned when a gateway does not become
	// active within LifecycleConfig.ProvisionTimeout.
	ErrProvisioningTimeout = errors.New("api gateway provisioning timed out")
	// ErrGatewayFailed is returned when the control plane reports the gateway
	// in the ERROR status while waiting for it to become active.
	ErrGatewayFailed = errors.New("api gateway failed")
	// ErrNotActive is returned when a request is proxied before Open has
	// completed or after Close.
	ErrNotActive = errors.New("api gateway is not active")
)

// APIError is a control-plane response with status >= 400.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	// Body is the (possibly truncated) response body.
	Body []byte
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: control plane http %d: %s", e.Method, e.URL, e.StatusCode, msg)
}

// StatusCodeOf returns the status code of an *APIError in err's chain, or 0.
func StatusCodeOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a control-plane 404.
func IsNotFound(err error) bool {
	return StatusCodeOf(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is a control-plane 401 or 403.
func IsUnauthorized(err error) bool {
	code := StatusCodeOf(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsServerError reports whether err is a control-plane 5xx.
func IsServerError(err error) bool {
	return StatusCodeOf(err) >= http.StatusInternalServerError
}
