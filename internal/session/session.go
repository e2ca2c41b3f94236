package session

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screenrec/internal/apis"
	"go2tv.app/screenrec/internal/convert"
)

const (
	interfaceName = "org.freedesktop.portal.Session"
	closedMember  = "Closed"
	closeCallName = interfaceName + ".Close"
)

func Close(ctx context.Context, path dbus.ObjectPath) error {
	return apis.CallOnObject(ctx, path, closeCallName)
}

func GenerateToken() dbus.Variant {
	return convert.FromString(apis.NewToken("screenrec_session"))
}

// OnClosed returns a channel closed when the compositor ends the session,
// for example when the user stops sharing. stop detaches the listener.
func OnClosed(path dbus.ObjectPath) (<-chan struct{}, func(), error) {
	signals, stop, err := apis.ListenOnSignal(path, interfaceName, closedMember)
	if err != nil {
		return nil, nil, err
	}
	closed := make(chan struct{})
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Path == path {
					close(closed)
					return
				}
			}
		}
	}()
	var once sync.Once
	return closed, func() {
		once.Do(func() {
			stop()
			close(done)
		})
	}, nil
}
