package apis

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	ObjectName        = "org.freedesktop.portal.Desktop"
	ObjectPath        = "/org/freedesktop/portal/desktop"
	CallBaseName      = "org.freedesktop.portal"
	PropertiesGetName = "org.freedesktop.DBus.Properties.Get"
)

func Call(ctx context.Context, callName string, args ...any) (any, error) {
	call, err := callOnObject(ctx, ObjectPath, callName, args...)
	if err != nil {
		return nil, err
	}

	var result any
	err = call.Store(&result)
	return result, err
}

// CallStore calls callName on the portal object and stores the reply in out.
func CallStore(ctx context.Context, out any, callName string, args ...any) error {
	call, err := callOnObject(ctx, ObjectPath, callName, args...)
	if err != nil {
		return err
	}
	return call.Store(out)
}

func CallOnObject(ctx context.Context, path dbus.ObjectPath, callName string, args ...any) error {
	_, err := callOnObject(ctx, path, callName, args...)
	return err
}

func callOnObject(ctx context.Context, path dbus.ObjectPath, callName string, args ...any) (*dbus.Call, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}

	obj := conn.Object(ObjectName, path)
	call := obj.CallWithContext(ctx, callName, 0, args...)
	return call, call.Err
}

func GetProperty(ctx context.Context, interfaceName, property string) (any, error) {
	call, err := callOnObject(ctx, ObjectPath, PropertiesGetName, interfaceName, property)
	if err != nil {
		return nil, err
	}

	var value any
	err = call.Store(&value)
	return value, err
}

// ListenOnSignal subscribes to one signal member on path. The returned stop
// function removes the match rule and detaches the channel.
func ListenOnSignal(path dbus.ObjectPath, iface, signalName string) (<-chan *dbus.Signal, func(), error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		path = ObjectPath
	}

	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(signalName),
	}
	if err := conn.AddMatchSignal(opts...); err != nil {
		return nil, nil, err
	}

	signal := make(chan *dbus.Signal, 4)
	conn.Signal(signal)
	stop := func() {
		conn.RemoveSignal(signal)
		_ = conn.RemoveMatchSignal(opts...)
	}
	return signal, stop, nil
}

// SenderPathElement is the caller's unique bus name in the form portal
// request and session paths use: ":1.42" becomes "1_42".
func SenderPathElement() (string, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return "", err
	}
	names := conn.Names()
	if len(names) == 0 {
		return "", dbus.ErrClosed
	}
	return strings.ReplaceAll(strings.TrimPrefix(names[0], ":"), ".", "_"), nil
}

// NewToken returns a random handle token usable in object paths.
func NewToken(prefix string) string {
	str := strings.Builder{}
	str.WriteString(prefix)
	a, _ := rand.Int(rand.Reader, big.NewInt(1<<32))
	str.WriteString(strconv.FormatUint(a.Uint64(), 16))
	return str.String()
}
