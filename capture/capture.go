package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go2tv.app/screenrec/media"
)

const (
	BackendAuto       = "auto"
	BackendScreenshot = "screenshot"
	BackendPortal     = "portal"

	DefaultInterval = 100 * time.Millisecond
)

var (
	ErrNotImplemented = errors.New("screen capture backend is not implemented on this platform")
	ErrCancelled      = errors.New("screen capture request was cancelled")
	ErrNoMonitors     = errors.New("screen capture found no monitors")
	ErrInvalidOptions = errors.New("invalid screen capture options")
	ErrClosed         = errors.New("screen capture source is closed")
)

// Monitor identifies one capturable surface.
type Monitor struct {
	Index  int
	Name   string
	Bounds image.Rectangle

	// NodeID is the PipeWire node for portal monitors.
	NodeID uint32
}

func (m Monitor) Width() int  { return m.Bounds.Dx() }
func (m Monitor) Height() int { return m.Bounds.Dy() }

func (m Monitor) String() string {
	return fmt.Sprintf("#%d %s %dx%d+%d+%d", m.Index, m.Name, m.Width(), m.Height(), m.Bounds.Min.X, m.Bounds.Min.Y)
}

// Handler receives captured frames. The frame belongs to the handler.
type Handler interface {
	OnFrame(ctx context.Context, frame *media.Frame)
}

type HandlerFunc func(ctx context.Context, frame *media.Frame)

func (f HandlerFunc) OnFrame(ctx context.Context, frame *media.Frame) { f(ctx, frame) }

// Source delivers full-resolution frames of one monitor. Implementations
// never call the Handler concurrently with itself.
type Source interface {
	Monitors(ctx context.Context) ([]Monitor, error)
	// Format is the pixel format of delivered frames.
	Format() media.PixelFormat
	// SetInterval sets the minimum spacing between deliveries. It is a hint.
	SetInterval(d time.Duration)
	Start(ctx context.Context, monitor Monitor, handler Handler) error
	// Pause stops deliveries and returns once no Handler call is running.
	// The backend stays allocated; Start may be called again.
	Pause() error
	Close() error
}

// Options configures Open.
type Options struct {
	// Backend is one of BackendAuto, BackendScreenshot or BackendPortal.
	Backend  string
	Interval time.Duration
}

type Factory func(ctx context.Context, options *Options) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available to Open. It panics on duplicates.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("capture: Register called twice for backend " + name)
	}
	registry[name] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Open creates a capture source for the requested backend.
func Open(ctx context.Context, options *Options) (Source, error) {
	opts, err := validateOpenOptions(options)
	if err != nil {
		return nil, err
	}

	name := resolveBackend(opts.Backend)
	factory, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: backend %q (available: %s)", ErrNotImplemented, name, strings.Join(Backends(), ", "))
	}
	src, err := factory(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s capture: %w", name, err)
	}
	src.SetInterval(opts.Interval)
	return src, nil
}

// resolveBackend maps "auto" to the portal on Wayland sessions and to the
// screenshot backend elsewhere.
func resolveBackend(name string) string {
	if name != BackendAuto {
		return name
	}
	if strings.TrimSpace(os.Getenv("WAYLAND_DISPLAY")) != "" {
		if _, ok := lookup(BackendPortal); ok {
			return BackendPortal
		}
	}
	return BackendScreenshot
}
