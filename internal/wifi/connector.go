package wifi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// ClassifierVersion identifies the nmcli diagnostic table below. Bump it when
// patterns change so logs can be matched to the table that produced a kind.
const ClassifierVersion = "nmcli-1.4x-en.1"

type credentialCondition int

const (
	anyCredential credentialCondition = iota
	withoutCredential
	withCredential
)

// failurePattern maps a diagnostic substring to a kind.
type failurePattern struct {
	Substring string
	When      credentialCondition
	Kind      ConnectErrorKind
}

// connectFailurePatterns is checked in order; first match wins.
var connectFailurePatterns = []failurePattern{
	{Substring: "Passwords or encryption keys are required", When: withoutCredential, Kind: KindNoCredential},
	{Substring: "No suitable network found", When: anyCredential, Kind: KindNetworkNotFound},
	{Substring: "No network with SSID", When: anyCredential, Kind: KindNetworkNotFound},
	{Substring: "activation failed", When: withCredential, Kind: KindWrongCredential},
}

// ClassifyConnectFailure maps the connect tool's diagnostic text to a kind.
// Matching is a case-insensitive substring search. A non-empty diagnostic
// that matches nothing is KindUnrecognized; an empty one is KindUnknown.
func ClassifyConnectFailure(diagnostic string, hasCredential bool) ConnectErrorKind {
	lower := strings.ToLower(diagnostic)
	for _, p := range connectFailurePatterns {
		if p.When == withoutCredential && hasCredential {
			continue
		}
		if p.When == withCredential && !hasCredential {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p.Substring)) {
			return p.Kind
		}
	}
	if strings.TrimSpace(diagnostic) == "" {
		return KindUnknown
	}
	return KindUnrecognized
}

// connectArgs builds the nmcli arguments. The credential is only appended
// when non-empty.
func connectArgs(bssid, credential string) []string {
	args := []string{"dev", "wifi", "connect", bssid}
	if credential != "" {
		args = append(args, "password", credential)
	}
	return args
}

// Connect joins the network identified by bssid. A malformed bssid returns
// ErrInvalidBSSID without running nmcli.
func (m *NmcliManager) Connect(ctx context.Context, bssid, credential string) error {
	if _, err := NormalizeBSSID(bssid); err != nil {
		return err
	}

	hasCredential := credential != ""
	out, err := m.runner.Run(ctx, m.nmcliPath, connectArgs(bssid, credential)...)
	if err != nil {
		return &ConnectError{Kind: KindUnknown, BSSID: bssid, Err: err}
	}
	if out.Success() {
		slog.Info("Connected to network", "bssid", bssid)
		return nil
	}

	diagnostic := strings.TrimSpace(string(out.Stderr))
	kind := ClassifyConnectFailure(diagnostic, hasCredential)
	if kind == KindUnrecognized || kind == KindUnknown {
		slog.Warn("Unclassified connect failure",
			"bssid", bssid,
			"exit_code", out.ExitCode,
			"classifier", ClassifierVersion,
			"diagnostic", diagnostic)
	}
	return &ConnectError{Kind: kind, BSSID: bssid, Diagnostic: diagnostic}
}

// NormalizeBSSID validates bssid as a 48-bit hardware address and returns it
// in upper-case colon form, the way nmcli prints it.
func NormalizeBSSID(bssid string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(bssid))
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidBSSID, bssid)
	}
	return strings.ToUpper(hw.String()), nil
}
