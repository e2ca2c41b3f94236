package sink

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go2tv.app/screenrec/media"
)

var (
	ErrSinkUnavailable = fmt.Errorf("%w: packet sink", media.ErrResourceUnavailable)
	ErrSinkWriteFailed = errors.New("packet sink write failed")
)

// Sink persists compressed packets in arrival order.
type Sink interface {
	WritePacket(pkt *media.Packet) error
	Close() error
}

type Stats struct {
	Packets uint64
	Bytes   uint64
}

// File writes packet payloads back to back, with no container framing.
type File struct {
	path string

	mu       sync.Mutex
	file     *os.File
	stats    Stats
	writeErr error

	closeOnce sync.Once
	closeErr  error
}

var _ Sink = (*File)(nil)

// OpenFile creates or truncates path.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrSinkUnavailable)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return &File{path: path, file: f}, nil
}

func (s *File) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// WritePacket appends pkt. After the first failure every later call returns
// the same error without touching the file.
func (s *File) WritePacket(pkt *media.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	if s.file == nil {
		return fmt.Errorf("%w: %w", ErrSinkWriteFailed, os.ErrClosed)
	}
	if pkt.Size() == 0 {
		return nil
	}

	n, err := s.file.Write(pkt.Data)
	s.stats.Bytes += uint64(n)
	if err != nil {
		s.writeErr = fmt.Errorf("%w: pts=%d: %w", ErrSinkWriteFailed, pkt.PTS, err)
		return s.writeErr
	}
	s.stats.Packets++
	return nil
}

func (s *File) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close flushes written bytes to stable storage and releases the handle.
func (s *File) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.file == nil {
			return
		}
		syncErr := s.file.Sync()
		closeErr := s.file.Close()
		s.file = nil
		s.closeErr = errors.Join(syncErr, closeErr)
	})
	return s.closeErr
}

// Remove closes the sink and deletes the file. Used when a session aborts
// before anything was captured.
func (s *File) Remove() error {
	if s == nil {
		return nil
	}
	closeErr := s.Close()
	rmErr := os.Remove(s.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	return errors.Join(closeErr, rmErr)
}

// Counter drops packets and only counts them.
type Counter struct {
	mu    sync.Mutex
	stats Stats
}

var _ Sink = (*Counter)(nil)

func Discard() *Counter {
	return &Counter{}
}

func (c *Counter) WritePacket(pkt *media.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Packets++
	c.stats.Bytes += uint64(pkt.Size())
	return nil
}

func (c *Counter) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Counter) Close() error { return nil }
