package stats

import (
	"context"
	"errors"
	"sync"
	"time"
)

type reading struct {
	tx, rx uint64
	err    error
}

// fakeSource returns queued readings in order; the last one repeats.
type fakeSource struct {
	mu       sync.Mutex
	names    []string
	namesErr error
	readings []reading
	calls    int
}

func newFakeSource(names ...string) *fakeSource {
	return &fakeSource{names: names}
}

func (f *fakeSource) queue(tx, rx uint64) *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, reading{tx: tx, rx: rx})
	return f
}

func (f *fakeSource) queueErr(err error) *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, reading{err: err})
	return f
}

func (f *fakeSource) Interfaces(_ context.Context) ([]string, error) {
	if f.namesErr != nil {
		return nil, f.namesErr
	}
	return f.names, nil
}

func (f *fakeSource) Counters(_ context.Context, _ string) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readings) == 0 {
		return 0, 0, errors.New("no readings queued")
	}
	idx := f.calls
	if idx >= len(f.readings) {
		idx = len(f.readings) - 1
	}
	f.calls++
	r := f.readings[idx]
	return r.tx, r.rx, r.err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeClock returns queued instants in order; the last one repeats.
type fakeClock struct {
	times []time.Time
	idx   int
}

func (c *fakeClock) now() time.Time {
	t := c.times[c.idx]
	if c.idx < len(c.times)-1 {
		c.idx++
	}
	return t
}

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time {
	return epoch.Add(d)
}
