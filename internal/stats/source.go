package stats

import (
	"context"
	"errors"
	"fmt"
)

// CounterSource reads cumulative byte counters of network interfaces.
type CounterSource interface {
	// Interfaces lists the interface names known to the host.
	Interfaces(ctx context.Context) ([]string, error)
	// Counters returns the cumulative transmitted and received bytes of name.
	Counters(ctx context.Context, name string) (tx, rx uint64, err error)
}

// SourceKind selects a CounterSource implementation.
type SourceKind string

const (
	SourceSysfs   SourceKind = "sysfs"
	SourceNetlink SourceKind = "netlink"
	SourcePsutil  SourceKind = "psutil"
)

// ErrUnknownSource is returned by NewSource for an unsupported kind.
var ErrUnknownSource = errors.New("unknown counter source")

// NewSource returns the CounterSource for kind. An empty kind selects sysfs.
func NewSource(kind SourceKind) (CounterSource, error) {
	switch kind {
	case "", SourceSysfs:
		return NewSysfsSource(), nil
	case SourceNetlink:
		return NewNetlinkSource(), nil
	case SourcePsutil:
		return NewPsutilSource(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
}

// ValidSourceKind reports whether kind names a supported source.
func ValidSourceKind(kind SourceKind) bool {
	switch kind {
	case "", SourceSysfs, SourceNetlink, SourcePsutil:
		return true
	}
	return false
}
