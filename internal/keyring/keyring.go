// Package keyring stores Wi-Fi credentials in the system keyring, keyed by
// access point BSSID.
package keyring

import (
	"errors"
	"fmt"

	zkeyring "github.com/zalando/go-keyring"

	"github.com/shini4i/wifimon/internal/wifi"
)

// ServiceName is the identifier used for storing credentials in the system keyring.
const ServiceName = "wifimon"

var (
	// ErrCredentialNotFound is returned when no credential is saved for a network.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrInvalidBSSID is returned when a key is not a hardware address.
	ErrInvalidBSSID = wifi.ErrInvalidBSSID
)

// Store defines the interface for credential storage operations.
type Store interface {
	// Save stores a credential for the given BSSID.
	Save(bssid, credential string) error
	// Get retrieves the credential for the given BSSID.
	Get(bssid string) (string, error)
	// Delete removes the credential for the given BSSID.
	Delete(bssid string) error
}

// SystemKeyring implements Store using the system keyring.
type SystemKeyring struct{}

// NewSystemKeyring creates a new SystemKeyring instance.
func NewSystemKeyring() *SystemKeyring {
	return &SystemKeyring{}
}

// Save stores a credential for bssid. Empty credentials are not stored.
func (s *SystemKeyring) Save(bssid, credential string) error {
	key, err := wifi.NormalizeBSSID(bssid)
	if err != nil {
		return err
	}
	if credential == "" {
		return errors.New("refusing to store an empty credential")
	}
	if err := zkeyring.Set(ServiceName, key, credential); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Get retrieves the credential saved for bssid.
// Returns ErrCredentialNotFound if there is none.
func (s *SystemKeyring) Get(bssid string) (string, error) {
	key, err := wifi.NormalizeBSSID(bssid)
	if err != nil {
		return "", err
	}
	credential, err := zkeyring.Get(ServiceName, key)
	if err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return "", ErrCredentialNotFound
		}
		return "", fmt.Errorf("failed to retrieve credential: %w", err)
	}
	return credential, nil
}

// Delete removes the credential saved for bssid.
// This operation is idempotent - it does not return an error if the credential doesn't exist.
func (s *SystemKeyring) Delete(bssid string) error {
	key, err := wifi.NormalizeBSSID(bssid)
	if err != nil {
		return err
	}
	if err := zkeyring.Delete(ServiceName, key); err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
