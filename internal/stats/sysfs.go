package stats

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sysfsNetPath is the base path for network interface statistics.
const sysfsNetPath = "/sys/class/net"

var errOutsideRoot = errors.New("invalid stats path: outside sysfs network directory")

// SysfsSource reads counters from /sys/class/net/<iface>/statistics.
type SysfsSource struct {
	root string
}

// NewSysfsSource returns a source rooted at /sys/class/net.
func NewSysfsSource() *SysfsSource {
	return &SysfsSource{root: sysfsNetPath}
}

// Interfaces lists the entries of the sysfs network directory.
func (s *SysfsSource) Interfaces(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Counters reads tx_bytes and rx_bytes for name.
func (s *SysfsSource) Counters(_ context.Context, name string) (tx, rx uint64, err error) {
	statsDir := filepath.Join(s.root, name, "statistics")

	tx, err = s.readStatFile(filepath.Join(statsDir, "tx_bytes"))
	if err != nil {
		return 0, 0, err
	}
	rx, err = s.readStatFile(filepath.Join(statsDir, "rx_bytes"))
	if err != nil {
		return 0, 0, err
	}
	return tx, rx, nil
}

// readStatFile reads a single stat file and parses it as uint64.
// The path must stay within the source root.
func (s *SysfsSource) readStatFile(path string) (uint64, error) {
	cleanPath := filepath.Clean(path)
	if !strings.HasPrefix(cleanPath, s.root+string(filepath.Separator)) {
		return 0, errOutsideRoot
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path validated above
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
