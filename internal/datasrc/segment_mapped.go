package datasrc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/exp/mmap"

	"github.com/nsauth/datasrc/internal/config"
)

// SegmentMode mirrors the three ways a memory-segment-backed client
// instance can be (re)opened by ResetMemorySegment. SEGMENT_INFO_UPDATE
// always uses SegmentReadOnly.
type SegmentMode int

const (
	// SegmentCreate truncates and (re)creates the backing file; the
	// instance is writable but serves nothing until the first
	// LOADZONE/UPDATEZONE persists into it.
	SegmentCreate SegmentMode = iota
	// SegmentReadWrite opens an existing backing file for update.
	SegmentReadWrite
	// SegmentReadOnly mmaps an existing backing file read-only; the
	// instance cannot originate writes until reset to a writable mode.
	SegmentReadOnly
)

// MappedSegment is the "mapped" cache-type backing store: a zone's
// records are persisted as master-file text in a file shared between
// worker processes, opened read-only via mmap by instances that did
// not perform the write. This is a userland analogue of the original
// shared-memory segment; it gives every process a consistent,
// zero-copy-read view of the most recently installed zone image
// without requiring true POSIX shared memory.
type MappedSegment struct {
	mu   sync.Mutex
	path string
	mode SegmentMode
	ro   *mmap.ReaderAt // non-nil only in SegmentReadOnly
}

// NewMappedSegment builds the segment handle for one client instance.
// params must contain a "mapped-file" string key naming the backing
// file's path.
func NewMappedSegment(params *config.Value) (*MappedSegment, error) {
	path, err := params.GetString("mapped-file")
	if err != nil {
		return nil, fmt.Errorf("mapped segment: %w", err)
	}
	return &MappedSegment{path: path, mode: SegmentReadOnly}, nil
}

// Reset (re)opens the segment in the given mode. SEGMENT_INFO_UPDATE
// calls it from the builder goroutine while holding the map mutex.
func (m *MappedSegment) Reset(mode SegmentMode, _ *config.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ro != nil {
		m.ro.Close()
		m.ro = nil
	}

	switch mode {
	case SegmentCreate:
		f, err := os.Create(m.path)
		if err != nil {
			return fmt.Errorf("create segment %s: %w", m.path, err)
		}
		f.Close()
	case SegmentReadWrite:
		if _, err := os.Stat(m.path); err != nil {
			return fmt.Errorf("open segment %s: %w", m.path, err)
		}
	case SegmentReadOnly:
		ro, err := mmap.Open(m.path)
		if err != nil {
			return fmt.Errorf("mmap segment %s: %w", m.path, err)
		}
		m.ro = ro
	}
	m.mode = mode
	return nil
}

// Writable reports whether persist is currently permitted.
func (m *MappedSegment) Writable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode == SegmentCreate || m.mode == SegmentReadWrite
}

// persist serializes img as zone-file text into the segment's backing
// file, via a temp file + rename so that any reader holding an mmap.
// ReaderAt on the old inode keeps seeing a consistent (if stale) image
// instead of a torn write.
func (m *MappedSegment) persist(img *zoneImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != SegmentCreate && m.mode != SegmentReadWrite {
		return ErrCacheNotWritable
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".segment-*.tmp")
	if err != nil {
		return fmt.Errorf("persist segment: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, byType := range img.rrs {
		for _, rrs := range byType {
			for _, rr := range rrs {
				if _, err := fmt.Fprintln(w, rr.String()); err != nil {
					tmp.Close()
					return fmt.Errorf("persist segment: %w", err)
				}
			}
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("persist segment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist segment: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("persist segment: %w", err)
	}
	return nil
}

// Close releases the read-only mapping, if any.
func (m *MappedSegment) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ro != nil {
		err := m.ro.Close()
		m.ro = nil
		return err
	}
	return nil
}
