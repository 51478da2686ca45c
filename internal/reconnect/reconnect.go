// Package reconnect retries Wi-Fi connects that failed for transient reasons.
package reconnect

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shini4i/wifimon/internal/wifi"
)

// Config holds retry configuration.
type Config struct {
	// MaxAttempts is the total number of connect attempts, including the first.
	MaxAttempts int
	// Delay is the wait between attempts.
	Delay time.Duration
}

// DefaultConfig returns default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       5 * time.Second,
	}
}

// ConnectFunc initiates one connect attempt.
type ConnectFunc func(ctx context.Context, bssid, credential string) error

// Callbacks contains optional callbacks for retry events.
type Callbacks struct {
	// OnRetrying is called before a retry with the upcoming attempt number
	// and the failure that caused it.
	OnRetrying func(attempt int, cause error)
}

// Manager runs connect attempts until one succeeds, a failure needs user
// input, or the attempt limit is reached. It is safe for concurrent use.
type Manager struct {
	mu           sync.Mutex
	attemptCount int

	config    Config
	connect   ConnectFunc
	callbacks Callbacks
	after     func(time.Duration) <-chan time.Time
}

// NewManager creates a retry manager around connect.
// MaxAttempts below 1 is treated as 1.
func NewManager(cfg Config, connect ConnectFunc) *Manager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Manager{
		config:  cfg,
		connect: connect,
		after:   time.After,
	}
}

// SetCallbacks sets the event callbacks.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = cb
}

// ShouldRetry reports whether a connect failure may succeed on a later attempt.
// Credential problems need user input and invalid input never changes, so
// neither is retried.
func ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, wifi.ErrInvalidBSSID) {
		return false
	}
	switch wifi.ConnectErrorKindOf(err) {
	case wifi.KindNoCredential, wifi.KindWrongCredential:
		return false
	default:
		return true
	}
}

// Connect attempts to join bssid, retrying transient failures. It returns
// nil on success or the last failure.
func (m *Manager) Connect(ctx context.Context, bssid, credential string) error {
	m.mu.Lock()
	m.attemptCount = 0
	callbacks := m.callbacks
	m.mu.Unlock()

	for {
		m.mu.Lock()
		m.attemptCount++
		attempt := m.attemptCount
		m.mu.Unlock()

		err := m.connect(ctx, bssid, credential)
		if err == nil {
			if attempt > 1 {
				slog.Info("Connected after retry", "bssid", bssid, "attempt", attempt)
			}
			return nil
		}

		if !ShouldRetry(err) {
			return err
		}
		if attempt >= m.config.MaxAttempts {
			if m.config.MaxAttempts > 1 {
				slog.Warn("Max connect attempts reached",
					"bssid", bssid,
					"attempts", attempt,
					"max", m.config.MaxAttempts)
			}
			return err
		}

		slog.Info("Scheduling connect retry",
			"bssid", bssid,
			"attempt", attempt+1,
			"max", m.config.MaxAttempts,
			"delay", m.config.Delay,
			"error", err)
		if callbacks.OnRetrying != nil {
			callbacks.OnRetrying(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return err
		case <-m.after(m.config.Delay):
		}
	}
}

// GetAttemptCount returns the number of attempts made by the last Connect.
func (m *Manager) GetAttemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attemptCount
}
