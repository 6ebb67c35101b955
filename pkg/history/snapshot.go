package history

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bastiangx/omnisuggest/internal/utils"
)

// ErrBadSnapshot is returned when a snapshot cannot be decoded.
var ErrBadSnapshot = errors.New("history: bad snapshot")

const (
	snapshotMagic   = "omnisuggest/history"
	snapshotVersion = 1
	// maxSnapshotEntries rejects headers that promise more than any store would hold.
	maxSnapshotEntries = 1_000_000
)

type snapshotHeader struct {
	Magic   string    `msgpack:"m"`
	Version int       `msgpack:"v"`
	Count   int       `msgpack:"n"`
	SavedAt time.Time `msgpack:"s"`
}

// Encode writes a snapshot of the store to w: a header followed by one msgpack
// value per entry.
func (s *Store) Encode(w io.Writer) error {
	entries := s.Entries()
	enc := msgpack.NewEncoder(w)
	header := snapshotHeader{
		Magic:   snapshotMagic,
		Version: snapshotVersion,
		Count:   len(entries),
		SavedAt: time.Now(),
	}
	if err := enc.Encode(&header); err != nil {
		return fmt.Errorf("failed to encode history header: %w", err)
	}
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return fmt.Errorf("failed to encode history entry %d: %w", i, err)
		}
	}
	return nil
}

// Decode replaces the store's content with the snapshot read from r. The store
// is left untouched when the snapshot is invalid.
func (s *Store) Decode(r io.Reader) error {
	dec := msgpack.NewDecoder(r)

	var header snapshotHeader
	if err := dec.Decode(&header); err != nil {
		return fmt.Errorf("%w: header: %v", ErrBadSnapshot, err)
	}
	if header.Magic != snapshotMagic {
		return fmt.Errorf("%w: unexpected magic %q", ErrBadSnapshot, header.Magic)
	}
	if header.Version != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, header.Version)
	}
	if header.Count < 0 || header.Count > maxSnapshotEntries {
		return fmt.Errorf("%w: invalid entry count %d", ErrBadSnapshot, header.Count)
	}

	entries := make([]Entry, 0, header.Count)
	for i := 0; i < header.Count; i++ {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("%w: entry %d of %d: %v", ErrBadSnapshot, i, header.Count, err)
		}
		entries = append(entries, e)
	}
	s.replace(entries)
	return nil
}

// Save writes the snapshot to path atomically.
func (s *Store) Save(path string) error {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(path, buf.Bytes()); err != nil {
		log.Errorf("Failed to save history to %s: %v", path, err)
		return fmt.Errorf("failed to save history: %w", err)
	}
	log.Debugf("Saved %d history entries to %s", s.Len(), path)
	return nil
}

// Load reads the snapshot at path. A missing file yields an error wrapping
// os.ErrNotExist.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read history %s: %w", path, err)
	}
	if err := s.Decode(bytes.NewReader(data)); err != nil {
		log.Errorf("Failed to load history from %s: %v", path, err)
		return err
	}
	log.Debugf("Loaded %d history entries from %s", s.Len(), path)
	return nil
}
