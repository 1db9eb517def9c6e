package backend

import (
	"net"
	"net/http"
	"strings"

	stderrors "errors"

	cerrors "github.com/robosystems/graphplane/internal/errors"
)

// syntaxMarkers are substrings that, when found anywhere in a response
// body, indicate a permanent query error regardless of HTTP status —
// these never get retried.
var syntaxMarkers = []string{
	"parser exception",
	"binder exception",
	"does not exist",
	"cannot find property",
	"syntax error",
	"catalog error",
}

// classifyHTTPStatus maps a response status and body to a ServiceError
// code, checking syntax markers first since they override the status-based
// classification at any status code.
func classifyHTTPStatus(status int, body string) cerrors.Code {
	lower := strings.ToLower(body)
	for _, marker := range syntaxMarkers {
		if strings.Contains(lower, marker) {
			return cerrors.CodeSyntax
		}
	}

	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return cerrors.CodeTransient
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
		return cerrors.CodeClient
	default:
		if status >= 500 {
			return cerrors.CodeServer
		}
		if status >= 400 {
			return cerrors.CodeClient
		}
		return cerrors.CodeServer
	}
}

// classifyTransportError maps a transport-level failure (connect refused,
// DNS failure, context deadline) to Transient or Timeout.
func classifyTransportError(err error) cerrors.Code {
	if err == nil {
		return ""
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return cerrors.CodeTimeout
	}
	return cerrors.CodeTransient
}

// isRetryableCode reports whether a code is retriable per spec.md §7:
// Transient and Server are retriable, Timeout is a Transient subtype and
// retriable, Client and Syntax never are.
func isRetryableCode(code cerrors.Code) bool {
	switch code {
	case cerrors.CodeTransient, cerrors.CodeTimeout, cerrors.CodeServer:
		return true
	default:
		return false
	}
}
