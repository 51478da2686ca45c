// Package wifi wraps the host Wi-Fi tooling (nmcli, ifconfig) behind the
// Manager interface: interface listing, network scanning and connecting.
package wifi

import (
	"context"
	"strings"
)

// Security is the security class advertised by a network.
type Security string

const (
	SecurityOpen    Security = "open"
	SecurityWEP     Security = "wep"
	SecurityWPA     Security = "wpa"
	SecurityWPA2    Security = "wpa2"
	SecurityWPA3    Security = "wpa3"
	SecurityUnknown Security = "unknown"
)

// Mode is the 802.11 operating mode of a network.
type Mode string

const (
	ModeInfra    Mode = "infra"
	ModeIBSS     Mode = "ibss"
	ModeMonitor  Mode = "monitor"
	ModeMesh     Mode = "mesh"
	ModeClient   Mode = "client"
	ModeAP       Mode = "ap"
	ModeWDS      Mode = "wds"
	ModeP2P      Mode = "p2p"
	ModeBridge   Mode = "bridge"
	ModeRepeater Mode = "repeater"
	ModeUnknown  Mode = "unknown"
)

// modeLabels maps the labels nmcli prints in its MODE column to modes.
// Matching is case-insensitive.
var modeLabels = map[string]Mode{
	"infra":    ModeInfra,
	"ad-hoc":   ModeIBSS,
	"ibss":     ModeIBSS,
	"monitor":  ModeMonitor,
	"mesh":     ModeMesh,
	"client":   ModeClient,
	"ap":       ModeAP,
	"wds":      ModeWDS,
	"p2p":      ModeP2P,
	"bridge":   ModeBridge,
	"repeater": ModeRepeater,
}

// ParseMode returns the mode for an nmcli MODE label, or ModeUnknown.
func ParseMode(label string) Mode {
	if m, ok := modeLabels[strings.ToLower(label)]; ok {
		return m
	}
	return ModeUnknown
}

// isModeLabel reports whether token is one of the known MODE labels.
func isModeLabel(token string) bool {
	_, ok := modeLabels[strings.ToLower(token)]
	return ok
}

var securityLabels = map[string]Security{
	"OPEN": SecurityOpen,
	"WEP":  SecurityWEP,
	"WPA":  SecurityWPA,
	"WPA1": SecurityWPA,
	"WPA2": SecurityWPA2,
	"WPA3": SecurityWPA3,
}

var securityRank = map[Security]int{
	SecurityUnknown: 0,
	SecurityOpen:    1,
	SecurityWEP:     2,
	SecurityWPA:     3,
	SecurityWPA2:    4,
	SecurityWPA3:    5,
}

// ParseSecurity classifies the SECURITY column. nmcli prints "--" for open
// networks and a list such as "WPA1 WPA2" otherwise; the strongest listed
// protocol wins. Labels like "802.1X" alone yield SecurityUnknown.
func ParseSecurity(tokens []string) Security {
	if len(tokens) == 0 || (len(tokens) == 1 && tokens[0] == "--") {
		return SecurityOpen
	}

	best := SecurityUnknown
	for _, tok := range tokens {
		s, ok := securityLabels[strings.ToUpper(tok)]
		if ok && securityRank[s] > securityRank[best] {
			best = s
		}
	}
	return best
}

// Network is one access point reported by a scan. Records carry no identity
// across scans; callers that want to correlate them compare BSSIDs.
type Network struct {
	SSID      string   `json:"ssid"`
	BSSID     string   `json:"bssid"`
	Signal    int      `json:"signal_strength"`
	Frequency uint32   `json:"frequency"`
	Channel   uint8    `json:"channel"`
	Security  Security `json:"security"`
	Mode      Mode     `json:"network_mode"`
	Hidden    bool     `json:"is_hidden"`
	InUse     bool     `json:"currently_used"`
	// Speed is the link rate in Mbit/s, when nmcli reports one.
	Speed *uint32 `json:"speed,omitempty"`
}

// Manager is the set of Wi-Fi operations exposed to frontends.
// NmcliManager runs them against the host tools; client.HelperClient proxies
// them to the helper daemon.
type Manager interface {
	// Scan lists nearby networks. Zero networks is an empty slice, not an error.
	Scan(ctx context.Context) ([]Network, error)
	// Connect joins the network with the given BSSID. An empty credential
	// means no credential. Failures are *ConnectError.
	Connect(ctx context.Context, bssid, credential string) error
	// Interfaces lists the host's network interface names.
	Interfaces(ctx context.Context) ([]string, error)
}
