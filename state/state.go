// Package state holds the currently served archive and swaps it atomically
// when the settings change.
package state

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/mbox-to-mbxc/archive"
	"github.com/dhcgn/mbox-to-mbxc/config"
)

// Snapshot is one loaded archive together with the settings it was opened
// with. Queries hold a read lock on it; retiring takes the write lock, so an
// archive is only closed once every query against it has finished.
type Snapshot struct {
	ID       string
	Settings config.Settings
	Reader   *archive.Reader
	LoadedAt time.Time

	mu      sync.RWMutex
	retired bool
}

// Retired reports whether the snapshot has been replaced and closed.
func (s *Snapshot) Retired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retired
}

func (s *Snapshot) retire(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = true
	if err := s.Reader.Close(); err != nil {
		logger.Warn("close retired archive", "snapshot", s.ID, "path", s.Reader.Path(), "err", err)
		return
	}
	logger.Debug("archive retired", "snapshot", s.ID, "path", s.Reader.Path())
}

type Store struct {
	logger   *slog.Logger
	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
	retiring sync.WaitGroup
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// Reload opens the archive named by settings and makes it current. On
// failure the previous snapshot keeps serving.
func (s *Store) Reload(settings config.Settings) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	r, err := archive.Open(settings.ZipPath, archive.ReaderOptions{
		HiddenLabels:  settings.FilterLabels,
		SpecialLabels: settings.SpecialLabels,
		Logger:        s.logger,
	})
	if err != nil {
		s.logger.Warn("reload failed, keeping current archive", "path", settings.ZipPath, "err", err)
		return fmt.Errorf("reload: %w", err)
	}

	snap := &Snapshot{
		ID:       uuid.NewString(),
		Settings: settings,
		Reader:   r,
		LoadedAt: time.Now(),
	}
	old := s.current.Swap(snap)
	s.logger.Info("archive loaded", "snapshot", snap.ID, "path", settings.ZipPath, "entries", r.Len())

	if old != nil {
		s.retiring.Add(1)
		go func() {
			defer s.retiring.Done()
			old.retire(s.logger)
		}()
	}
	return nil
}

// Current returns the snapshot being served, or nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Acquire returns the current snapshot read-locked together with its
// release function. Without a loaded archive it fails with
// archive.ErrNotFound.
func (s *Store) Acquire() (*Snapshot, func(), error) {
	for {
		snap := s.current.Load()
		if snap == nil {
			return nil, nil, fmt.Errorf("no archive loaded: %w", archive.ErrNotFound)
		}
		snap.mu.RLock()
		if !snap.retired {
			return snap, snap.mu.RUnlock, nil
		}
		// Swapped out between Load and RLock; the replacement is already
		// visible.
		snap.mu.RUnlock()
	}
}

// View runs fn against the current archive.
func (s *Store) View(fn func(*archive.Reader) error) error {
	snap, release, err := s.Acquire()
	if err != nil {
		return err
	}
	defer release()
	return fn(snap.Reader)
}

// Close retires the current snapshot and waits for pending retirements.
func (s *Store) Close() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if old := s.current.Swap(nil); old != nil {
		old.retire(s.logger)
	}
	s.retiring.Wait()
	return nil
}
