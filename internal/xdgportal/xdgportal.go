package xdgportal

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screenrec/internal/apis"
	"go2tv.app/screenrec/internal/convert"
	"go2tv.app/screenrec/internal/request"
	"go2tv.app/screenrec/internal/session"
)

const (
	interfaceName      = apis.CallBaseName + ".ScreenCast"
	createSessionName  = interfaceName + ".CreateSession"
	selectSourcesName  = interfaceName + ".SelectSources"
	startName          = interfaceName + ".Start"
	openPipeWireRemote = interfaceName + ".OpenPipeWireRemote"
)

const (
	SourceTypeMonitor uint32 = 1
	SourceTypeWindow  uint32 = 2
	SourceTypeVirtual uint32 = 4
)

const (
	CursorModeHidden   uint32 = 1
	CursorModeEmbedded uint32 = 2
	CursorModeMetadata uint32 = 4
)

const (
	PersistModeNone       uint32 = 0
	PersistModeRunning    uint32 = 1
	PersistModePersistent uint32 = 2
)

// ErrCancelled is returned when the user dismisses the portal dialog.
var ErrCancelled = errors.New("screencast request was cancelled")

func getUint32Property(ctx context.Context, property string) (uint32, error) {
	value, err := apis.GetProperty(ctx, interfaceName, property)
	if err != nil {
		return 0, err
	}

	result, ok := value.(uint32)
	if !ok {
		return 0, fmt.Errorf("property %s returned unexpected type %T", property, value)
	}
	return result, nil
}

func GetAvailableSourceTypes(ctx context.Context) (uint32, error) {
	return getUint32Property(ctx, "AvailableSourceTypes")
}

func GetAvailableCursorModes(ctx context.Context) (uint32, error) {
	return getUint32Property(ctx, "AvailableCursorModes")
}

func GetVersion(ctx context.Context) (uint32, error) {
	return getUint32Property(ctx, "version")
}

type Stream struct {
	NodeID     uint32
	Position   [2]int32
	Size       [2]int32
	SourceType uint32
	MappingID  string
	ID         string
}

type Session struct {
	Path dbus.ObjectPath
}

type SelectSourcesOptions struct {
	Types        uint32
	Multiple     bool
	CursorMode   uint32
	RestoreToken string
	PersistMode  uint32
}

// call performs a portal method that answers through a Request object and
// waits for the response. A cancelled dialog yields ErrCancelled.
func call(ctx context.Context, method string, options convert.Vardict, args ...any) (map[string]dbus.Variant, error) {
	req, err := request.Prepare()
	if err != nil {
		return nil, err
	}
	options["handle_token"] = convert.FromString(req.Token)

	result, err := apis.Call(ctx, method, append(args, map[string]dbus.Variant(options))...)
	if err != nil {
		req.Cancel()
		return nil, err
	}
	requestPath, ok := result.(dbus.ObjectPath)
	if !ok {
		req.Cancel()
		return nil, fmt.Errorf("%s returned unexpected type %T", method, result)
	}
	if err := req.Follow(requestPath); err != nil {
		req.Cancel()
		return nil, err
	}

	status, results, err := req.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if status >= request.Cancelled {
		return nil, ErrCancelled
	}
	return results, nil
}

func CreateSession(ctx context.Context) (*Session, error) {
	options := convert.Vardict{"session_handle_token": session.GenerateToken()}
	results, err := call(ctx, createSessionName, options)
	if err != nil {
		return nil, err
	}

	sessionHandle, ok := results["session_handle"]
	if !ok {
		return nil, fmt.Errorf("CreateSession response missing session_handle")
	}
	switch v := sessionHandle.Value().(type) {
	case string:
		return &Session{Path: dbus.ObjectPath(v)}, nil
	case dbus.ObjectPath:
		return &Session{Path: v}, nil
	default:
		return nil, fmt.Errorf("CreateSession session_handle has unexpected type %T", v)
	}
}

func (s *Session) SelectSources(ctx context.Context, options *SelectSourcesOptions) error {
	data := convert.Vardict{}
	if options != nil {
		data.Uint32("types", options.Types).
			Bool("multiple", options.Multiple).
			Uint32("cursor_mode", options.CursorMode).
			String("restore_token", options.RestoreToken).
			Uint32("persist_mode", options.PersistMode)
	}
	_, err := call(ctx, selectSourcesName, data, s.Path)
	return err
}

func (s *Session) Start(ctx context.Context, parentWindow string) ([]Stream, error) {
	results, err := call(ctx, startName, convert.Vardict{}, s.Path, parentWindow)
	if err != nil {
		return nil, err
	}

	streamVariant, ok := results["streams"]
	if !ok {
		return nil, nil
	}
	return parseStreams(streamVariant.Value()), nil
}

func parseStreams(value any) []Stream {
	var rawStreams [][]any
	if rs, ok := value.([][]any); ok {
		rawStreams = rs
	} else if rs, ok := value.([]any); ok {
		rawStreams = make([][]any, len(rs))
		for i, r := range rs {
			if s, ok := r.([]any); ok {
				rawStreams[i] = s
			}
		}
	} else {
		return nil
	}

	streams := []Stream{}
	for _, streamSlice := range rawStreams {
		if len(streamSlice) < 2 {
			continue
		}

		stream := Stream{}
		if nodeID, ok := streamSlice[0].(uint32); ok {
			stream.NodeID = nodeID
		}

		props, ok := streamSlice[1].(map[string]dbus.Variant)
		if ok {
			if pos, ok := props["position"]; ok {
				if position, ok := convert.Int32Pair(pos.Value()); ok {
					stream.Position = position
				}
			}
			if size, ok := props["size"]; ok {
				if parsedSize, ok := convert.Int32Pair(size.Value()); ok {
					stream.Size = parsedSize
				}
			}
			if sourceType, ok := props["source_type"]; ok {
				if parsedType, ok := sourceType.Value().(uint32); ok {
					stream.SourceType = parsedType
				}
			}
			if mappingID, ok := props["mapping_id"]; ok {
				if parsedID, ok := mappingID.Value().(string); ok {
					stream.MappingID = parsedID
				}
			}
			if id, ok := props["id"]; ok {
				if parsedID, ok := id.Value().(string); ok {
					stream.ID = parsedID
				}
			}
		}

		streams = append(streams, stream)
	}
	return streams
}

// OpenPipeWireRemote returns a file descriptor connected to the PipeWire
// remote that carries this session's streams. The caller owns it.
func (s *Session) OpenPipeWireRemote(ctx context.Context) (int, error) {
	var fd dbus.UnixFD
	err := apis.CallStore(ctx, &fd, openPipeWireRemote, s.Path, map[string]dbus.Variant{})
	if err != nil {
		return -1, err
	}
	return int(fd), nil
}

func (s *Session) Close(ctx context.Context) error {
	return session.Close(ctx, s.Path)
}

// Closed is closed when the compositor ends the session.
func (s *Session) Closed() (<-chan struct{}, func(), error) {
	return session.OnClosed(s.Path)
}
