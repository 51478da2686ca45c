package stats

import (
	"context"
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
)

// ErrCountersUnavailable is returned when the kernel reports no statistics
// for a link.
var ErrCountersUnavailable = errors.New("link statistics unavailable")

// NetlinkSource reads counters from rtnetlink link attributes.
type NetlinkSource struct {
	linkList   func() ([]netlink.Link, error)
	linkByName func(string) (netlink.Link, error)
}

// NewNetlinkSource returns a source backed by the host netlink socket.
func NewNetlinkSource() *NetlinkSource {
	return &NetlinkSource{
		linkList:   netlink.LinkList,
		linkByName: netlink.LinkByName,
	}
}

// Interfaces lists link names.
func (s *NetlinkSource) Interfaces(_ context.Context) ([]string, error) {
	links, err := s.linkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.Attrs().Name)
	}
	return names, nil
}

// Counters returns the link's 64-bit byte counters.
func (s *NetlinkSource) Counters(_ context.Context, name string) (tx, rx uint64, err error) {
	link, err := s.linkByName(name)
	if err != nil {
		return 0, 0, fmt.Errorf("link %s: %w", name, err)
	}
	st := link.Attrs().Statistics
	if st == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrCountersUnavailable, name)
	}
	return st.TxBytes, st.RxBytes, nil
}
