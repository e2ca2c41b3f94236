//go:build !linux

package pipewire

import (
	"context"
	"errors"
)

var ErrLibraryNotLoaded = errors.New("pipewire capture backend is only available on linux")

type SampleFunc func(data []byte, width, height int)

type Stream struct{}

func IsAvailable() bool {
	return false
}

func NewStream(fd int, nodeID uint32, width, height int, onSample SampleFunc, onError func(error)) (*Stream, error) {
	return nil, ErrLibraryNotLoaded
}

func (s *Stream) Start(ctx context.Context) error { return ErrLibraryNotLoaded }

func (s *Stream) Stop() error { return nil }

func (s *Stream) Close() error { return nil }
