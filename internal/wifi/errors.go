package wifi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCommandExecution is returned when a host tool is missing, cannot be
	// started, or exits non-zero where output was required.
	ErrCommandExecution = errors.New("command execution failed")
	// ErrInvalidBSSID is returned when a BSSID is not a hardware address.
	ErrInvalidBSSID = errors.New("invalid BSSID")
)

// ConnectErrorKind is the closed set of causes a connect failure maps to.
type ConnectErrorKind string

const (
	// KindNoCredential: the network needs a credential and none was supplied.
	KindNoCredential ConnectErrorKind = "no_credential"
	// KindNetworkNotFound: no network with the requested BSSID is visible.
	KindNetworkNotFound ConnectErrorKind = "network_not_found"
	// KindWrongCredential: activation failed while a credential was supplied.
	KindWrongCredential ConnectErrorKind = "wrong_credential"
	// KindUnrecognized: nmcli printed a diagnostic no pattern matched.
	KindUnrecognized ConnectErrorKind = "unrecognized"
	// KindUnknown: nmcli could not be run or gave no diagnostic.
	KindUnknown ConnectErrorKind = "unknown"
)

// Status returns the HTTP-like status code shown to users for the kind.
// These are display codes only.
func (k ConnectErrorKind) Status() int {
	switch k {
	case KindNetworkNotFound:
		return http.StatusNotFound
	case KindWrongCredential:
		return http.StatusUnauthorized
	case KindNoCredential:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message for the kind.
func (k ConnectErrorKind) Message() string {
	switch k {
	case KindNoCredential:
		return "No password provided"
	case KindNetworkNotFound:
		return "No network"
	case KindWrongCredential:
		return "Wrong password"
	case KindUnrecognized:
		return "Unrecognized error"
	default:
		return "Unknown error"
	}
}

// ConnectError describes a failed connection attempt.
type ConnectError struct {
	Kind  ConnectErrorKind
	BSSID string
	// Diagnostic is the trimmed stderr of the connect tool, if any.
	Diagnostic string
	Err        error
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("connect %s: %s", e.BSSID, e.Kind.Message())
	switch {
	case e.Err != nil:
		return msg + ": " + e.Err.Error()
	case e.Diagnostic != "":
		return msg + ": " + e.Diagnostic
	}
	return msg
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ConnectErrorKindOf returns the kind of a *ConnectError in err's chain, or
// KindUnknown.
func ConnectErrorKindOf(err error) ConnectErrorKind {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
