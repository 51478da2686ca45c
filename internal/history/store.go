package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shini4i/wifimon/internal/fileutil"
	"github.com/shini4i/wifimon/internal/wifi"
)

// ErrNotFound is returned when no record exists for a BSSID.
var ErrNotFound = errors.New("network not in history")

// Store keeps one JSON file per access point.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

// NewStore creates a history store at the given directory.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

// Record merges a scan result observed at now into the history.
// Networks with a malformed BSSID are skipped; write failures are joined.
func (s *Store) Record(networks []wifi.Network, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, n := range networks {
		id, err := IDFor(n.BSSID)
		if err != nil {
			slog.Debug("Skipping network with invalid BSSID", "bssid", n.BSSID)
			continue
		}

		rec, err := s.loadUnsafe(id)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				// A corrupt file is replaced rather than blocking new sightings.
				slog.Warn("Discarding unreadable history record", "bssid", n.BSSID, "error", err)
			}
			bssid, _ := wifi.NormalizeBSSID(n.BSSID)
			rec = &Record{ID: id, BSSID: bssid}
		}

		rec.observe(n, now)
		if err := fileutil.WriteJSON(s.path(id), rec, 0600); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", rec.BSSID, err))
		}
	}
	return errors.Join(errs...)
}

// Load returns the record of bssid.
func (s *Store) Load(bssid string) (*Record, error) {
	id, err := IDFor(bssid)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.loadUnsafe(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read history record: %w", err)
	}
	return rec, nil
}

// Forget removes the record of bssid.
func (s *Store) Forget(bssid string) error {
	id, err := IDFor(bssid)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete history record: %w", err)
	}
	return nil
}

// ListError represents an error encountered while loading a specific record.
type ListError struct {
	ID  string
	Err error
}

// Error implements the error interface for ListError.
func (e ListError) Error() string {
	return fmt.Sprintf("record %s: %v", e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e ListError) Unwrap() error {
	return e.Err
}

// ListResult contains the listed records, most recently seen first, and the
// files that could not be read.
type ListResult struct {
	Records []*Record
	Errors  []ListError
}

// List returns all records ordered by LastSeen, newest first.
func (s *Store) List() (*ListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	result := &ListResult{Records: []*Record{}}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}

		id := strings.TrimSuffix(name, ".json")
		if _, err := uuid.Parse(id); err != nil {
			result.Errors = append(result.Errors, ListError{
				ID:  id,
				Err: fmt.Errorf("invalid record ID in filename: %w", err),
			})
			continue
		}

		rec, err := s.loadUnsafe(id)
		if err != nil {
			result.Errors = append(result.Errors, ListError{ID: id, Err: err})
			continue
		}
		result.Records = append(result.Records, rec)
	}

	sort.SliceStable(result.Records, func(i, j int) bool {
		a, b := result.Records[i], result.Records[j]
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.BSSID < b.BSSID
	})
	return result, nil
}

// loadUnsafe loads a record without acquiring locks (caller must hold lock).
func (s *Store) loadUnsafe(id string) (*Record, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}
