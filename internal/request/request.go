package request

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screenrec/internal/apis"
)

var ErrUnexpectedResponse = errors.New("unexpected response from dbus")

const (
	interfaceName  = "org.freedesktop.portal.Request"
	responseMember = "Response"
	closeCallName  = interfaceName + ".Close"
)

type ResponseStatus = uint32

const (
	Success   ResponseStatus = 0
	Cancelled ResponseStatus = 1
	Ended     ResponseStatus = 2
)

// Request is a pending portal request. It subscribes to the Response signal
// before the method call is made, so a fast reply cannot be missed.
type Request struct {
	Token string
	Path  dbus.ObjectPath

	signals <-chan *dbus.Signal
	stop    func()
}

func Prepare() (*Request, error) {
	sender, err := apis.SenderPathElement()
	if err != nil {
		return nil, err
	}
	token := apis.NewToken("screenrec")
	path := dbus.ObjectPath(fmt.Sprintf("%s/request/%s/%s", apis.ObjectPath, sender, token))

	signals, stop, err := apis.ListenOnSignal(path, interfaceName, responseMember)
	if err != nil {
		return nil, err
	}
	return &Request{Token: token, Path: path, signals: signals, stop: stop}, nil
}

// Follow switches to the path the portal actually returned. Old portal
// versions ignore handle_token.
func (r *Request) Follow(path dbus.ObjectPath) error {
	if path == "" || path == r.Path {
		return nil
	}
	r.stop()
	signals, stop, err := apis.ListenOnSignal(path, interfaceName, responseMember)
	if err != nil {
		return err
	}
	r.Path, r.signals, r.stop = path, signals, stop
	return nil
}

// Wait blocks for the Response signal. When ctx ends first the request is
// closed on the portal side.
func (r *Request) Wait(ctx context.Context) (ResponseStatus, map[string]dbus.Variant, error) {
	defer r.stop()

	for {
		select {
		case <-ctx.Done():
			_ = Close(context.WithoutCancel(ctx), r.Path)
			return Ended, nil, ctx.Err()
		case response, ok := <-r.signals:
			if !ok {
				return Ended, nil, ErrUnexpectedResponse
			}
			if response.Path != r.Path {
				continue
			}
			if len(response.Body) != 2 {
				return Ended, nil, ErrUnexpectedResponse
			}
			status, ok := response.Body[0].(ResponseStatus)
			if !ok {
				return Ended, nil, fmt.Errorf("%w: status has type %T", ErrUnexpectedResponse, response.Body[0])
			}
			results, ok := response.Body[1].(map[string]dbus.Variant)
			if !ok {
				return Ended, nil, fmt.Errorf("%w: results have type %T", ErrUnexpectedResponse, response.Body[1])
			}
			return status, results, nil
		}
	}
}

func (r *Request) Cancel() {
	r.stop()
}

func Close(ctx context.Context, path dbus.ObjectPath) error {
	return apis.CallOnObject(ctx, path, closeCallName)
}
