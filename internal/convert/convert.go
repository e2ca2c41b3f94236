package convert

import (
	"reflect"

	"github.com/godbus/dbus/v5"
)

var (
	boolSignature   = dbus.SignatureOfType(reflect.TypeOf(false))
	stringSignature = dbus.SignatureOfType(reflect.TypeOf(""))
	uint32Signature = dbus.SignatureOfType(reflect.TypeOf(uint32(0)))
)

func FromBool(input bool) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, boolSignature)
}

func FromString(input string) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, stringSignature)
}

func FromUint32(input uint32) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, uint32Signature)
}

// Vardict is the a{sv} options argument of portal methods. Setters skip zero
// values so unset options fall back to portal defaults.
type Vardict map[string]dbus.Variant

func (d Vardict) String(key, value string) Vardict {
	if value != "" {
		d[key] = FromString(value)
	}
	return d
}

func (d Vardict) Uint32(key string, value uint32) Vardict {
	if value != 0 {
		d[key] = FromUint32(value)
	}
	return d
}

func (d Vardict) Bool(key string, value bool) Vardict {
	if value {
		d[key] = FromBool(value)
	}
	return d
}

// Int32Pair decodes the (ii) tuples used for stream position and size.
func Int32Pair(value any) ([2]int32, bool) {
	values, ok := value.([]any)
	if !ok || len(values) < 2 {
		return [2]int32{}, false
	}

	left, ok := values[0].(int32)
	if !ok {
		return [2]int32{}, false
	}
	right, ok := values[1].(int32)
	if !ok {
		return [2]int32{}, false
	}

	return [2]int32{left, right}, true
}
