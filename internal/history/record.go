// Package history remembers the networks seen by past scans.
package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/shini4i/wifimon/internal/wifi"
)

// namespace scopes the deterministic record IDs derived from BSSIDs.
var namespace = uuid.MustParse("6f1c2e4a-8d3b-5a7e-9c10-2b4d6e8f0a13")

// Record is what is known about one access point across scans.
type Record struct {
	ID         string        `json:"id"`
	BSSID      string        `json:"bssid"`
	SSID       string        `json:"ssid"`
	Hidden     bool          `json:"is_hidden"`
	Security   wifi.Security `json:"security"`
	Frequency  uint32        `json:"frequency"`
	Channel    uint8         `json:"channel"`
	LastSignal int           `json:"last_signal"`
	BestSignal int           `json:"best_signal"`
	FirstSeen  time.Time     `json:"first_seen"`
	LastSeen   time.Time     `json:"last_seen"`
	TimesSeen  int           `json:"times_seen"`
}

// IDFor returns the record ID of bssid. Equivalent spellings of the same
// address map to the same ID.
func IDFor(bssid string) (string, error) {
	key, err := wifi.NormalizeBSSID(bssid)
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(namespace, []byte(key)).String(), nil
}

// observe folds one sighting into r. A hidden sighting keeps the last
// known SSID.
func (r *Record) observe(n wifi.Network, now time.Time) {
	if r.TimesSeen == 0 {
		r.FirstSeen = now
		r.BestSignal = n.Signal
	}
	if !n.Hidden {
		r.SSID = n.SSID
	}
	r.Hidden = n.Hidden
	r.Security = n.Security
	r.Frequency = n.Frequency
	r.Channel = n.Channel
	r.LastSignal = n.Signal
	if n.Signal > r.BestSignal {
		r.BestSignal = n.Signal
	}
	r.LastSeen = now
	r.TimesSeen++
}
