package stats

import (
	"context"
	"fmt"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// PsutilSource reads counters through gopsutil, which parses
// /proc/net/dev on Linux.
type PsutilSource struct {
	interfaces func(context.Context) (psnet.InterfaceStatList, error)
	ioCounters func(context.Context, bool) ([]psnet.IOCountersStat, error)
}

// NewPsutilSource returns a gopsutil backed source.
func NewPsutilSource() *PsutilSource {
	return &PsutilSource{
		interfaces: psnet.InterfacesWithContext,
		ioCounters: psnet.IOCountersWithContext,
	}
}

// Interfaces lists interface names.
func (s *PsutilSource) Interfaces(ctx context.Context) ([]string, error) {
	ifaces, err := s.interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	return names, nil
}

// Counters returns BytesSent and BytesRecv for name.
func (s *PsutilSource) Counters(ctx context.Context, name string) (tx, rx uint64, err error) {
	counters, err := s.ioCounters(ctx, true)
	if err != nil {
		return 0, 0, fmt.Errorf("io counters: %w", err)
	}
	for _, c := range counters {
		if c.Name == name {
			return c.BytesSent, c.BytesRecv, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrCountersUnavailable, name)
}
