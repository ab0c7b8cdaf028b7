package messages

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/muurk/lifxlan/internal/protocol"
)

// Service is a LIFX service advertised in StateService.
type Service uint8

// Known services. Devices may advertise reserved values.
const (
	ServiceUDP       Service = 1
	ServiceReserved1 Service = 2
	ServiceReserved2 Service = 3
	ServiceReserved3 Service = 4
	ServiceReserved4 Service = 5
)

// String returns the service name
func (s Service) String() string {
	if name, ok := Services.NameOf(uint64(s)); ok {
		return name
	}
	return fmt.Sprintf("Service(%d)", uint8(s))
}

// Services enumerates StateService.service.
var Services = protocol.NewEnum("Services", true, map[string]uint64{
	"UDP":       uint64(ServiceUDP),
	"RESERVED1": uint64(ServiceReserved1),
	"RESERVED2": uint64(ServiceReserved2),
	"RESERVED3": uint64(ServiceReserved3),
	"RESERVED4": uint64(ServiceReserved4),
})

// Waveform enumerates SetWaveform.waveform.
var Waveform = protocol.NewEnum("Waveform", false, map[string]uint64{
	"SAW":       0,
	"SINE":      1,
	"HALF_SINE": 2,
	"TRIANGLE":  3,
	"PULSE":     4,
})

// ApplicationRequest enumerates the apply field of the multizone setters.
var ApplicationRequest = protocol.NewEnum("ApplicationRequest", false, map[string]uint64{
	"NO_APPLY":   0,
	"APPLY":      1,
	"APPLY_ONLY": 2,
})

func floatTransform(pack func(float64) (any, error), unpack func(float64) float64) protocol.Transform {
	return protocol.Transform{
		Logical: protocol.KindFloat,
		Pack: func(_ *protocol.Context, v any) (any, error) {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("expected a number, got %T", v)
			}
			return pack(f)
		},
		Unpack: func(_ *protocol.Context, v any) (any, error) {
			switch n := v.(type) {
			case uint64:
				return unpack(float64(n)), nil
			case int64:
				return unpack(float64(n)), nil
			}
			return nil, fmt.Errorf("expected an integer, got %T", v)
		},
	}
}

func inRange(v, lo, hi float64) error {
	if math.IsNaN(v) || v < lo || v > hi {
		return fmt.Errorf("%v is outside [%v, %v]", v, lo, hi)
	}
	return nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Duration is seconds on the wire as a u32 count of milliseconds.
var Duration = protocol.Uint32.Default(0).Transform(floatTransform(
	func(v float64) (any, error) {
		if err := inRange(v, 0, math.MaxUint32/1000); err != nil {
			return nil, err
		}
		return uint64(math.Round(v * 1000)), nil
	},
	func(n float64) float64 { return n / 1000 },
))

// NanoToSeconds is seconds on the wire as a u64 count of nanoseconds.
var NanoToSeconds = protocol.Uint64.Transform(floatTransform(
	func(v float64) (any, error) {
		if err := inRange(v, 0, math.MaxUint64/1e9); err != nil {
			return nil, err
		}
		return uint64(math.Round(v * 1e9)), nil
	},
	func(n float64) float64 { return n / 1e9 },
))

// ScaledHue is a hue in degrees on the wire as a u16 fraction of a turn.
// Conversion is lossy; values round trip to two decimal places.
var ScaledHue = protocol.Uint16.Default(0).Transform(floatTransform(
	func(v float64) (any, error) {
		if err := inRange(v, 0, 360); err != nil {
			return nil, err
		}
		return uint64(math.Round(0x10000*v/360)) % 0x10000, nil
	},
	func(n float64) float64 { return roundTo(n*360/0x10000, 2) },
))

// ScaledTo65535 is a 0..1 ratio on the wire as a u16.
var ScaledTo65535 = protocol.Uint16.Default(0).Transform(floatTransform(
	func(v float64) (any, error) {
		if err := inRange(v, 0, 1); err != nil {
			return nil, err
		}
		return uint64(math.Round(0xFFFF * v)), nil
	},
	func(n float64) float64 { return roundTo(n/0xFFFF, 4) },
))

// WaveformSkewRatio is a 0..1 ratio on the wire as an i16 centred on zero.
var WaveformSkewRatio = protocol.Int16.Default(0).Transform(floatTransform(
	func(v float64) (any, error) {
		if err := inRange(v, 0, 1); err != nil {
			return nil, err
		}
		return int64(65535*v) - 32768, nil
	},
	func(n float64) float64 { return roundTo((n+32768)/65535, 4) },
))

// Version is a "major.minor" firmware version on the wire as a u32 with
// the minor number in the low half.
var Version = protocol.Uint32.Transform(protocol.Transform{
	Logical: protocol.KindString,
	Pack: func(_ *protocol.Context, v any) (any, error) {
		s, _ := v.(string)
		major, minor, ok := strings.Cut(s, ".")
		if !ok {
			return nil, fmt.Errorf("version %q is not major.minor", s)
		}
		hi, err := strconv.ParseUint(major, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("version %q: %w", s, err)
		}
		lo, err := strconv.ParseUint(minor, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("version %q: %w", s, err)
		}
		return hi<<16 | lo, nil
	},
	Unpack: func(_ *protocol.Context, v any) (any, error) {
		n, ok := v.(uint64)
		if !ok {
			return nil, fmt.Errorf("expected an integer, got %T", v)
		}
		return fmt.Sprintf("%d.%d", n>>16, n&0xFFFF), nil
	},
})

// hsbk are the colour fields shared by Color and the light setters.
func hsbk() []protocol.Field {
	return []protocol.Field{
		protocol.F("hue", ScaledHue),
		protocol.F("saturation", ScaledTo65535),
		protocol.F("brightness", ScaledTo65535),
		protocol.F("kelvin", protocol.Uint16.Default(3500)),
	}
}

// hsbkOptional are the colour fields of SetWaveformOptional, where an
// absent field is left unchanged on the device.
func hsbkOptional() []protocol.Field {
	return []protocol.Field{
		protocol.F("hue", ScaledHue.Optional()),
		protocol.F("saturation", ScaledTo65535.Optional()),
		protocol.F("brightness", ScaledTo65535.Optional()),
		protocol.F("kelvin", protocol.Uint16.Optional()),
	}
}

// Color is one HSBK colour, 64 bits.
var Color = protocol.MustSchema("Color", hsbk()...)

// Tile describes one device of a tile chain, 440 bits.
var Tile = protocol.MustSchema("Tile",
	protocol.F("accel_meas_x", protocol.Int16.Default(0)),
	protocol.F("accel_meas_y", protocol.Int16.Default(0)),
	protocol.F("accel_meas_z", protocol.Int16.Default(0)),
	protocol.F("reserved6", protocol.Reserved(16)),
	protocol.F("user_x", protocol.Float32.Default(0)),
	protocol.F("user_y", protocol.Float32.Default(0)),
	protocol.F("width", protocol.Uint8.Default(8)),
	protocol.F("height", protocol.Uint8.Default(8)),
	protocol.F("reserved7", protocol.Reserved(8)),
	protocol.F("device_version_vendor", protocol.Uint32.Default(0)),
	protocol.F("device_version_product", protocol.Uint32.Default(0)),
	protocol.F("device_version_version", protocol.Uint32.Default(0)),
	protocol.F("firmware_build", protocol.Uint64.Default(0)),
	protocol.F("reserved8", protocol.Reserved(64)),
	protocol.F("firmware_version", Version.Default("0.0")),
	protocol.F("reserved9", protocol.Reserved(32)),
)

// tileBufferRect addresses a rectangle of a tile's frame buffer.
func tileBufferRect() []protocol.Field {
	return []protocol.Field{
		protocol.F("reserved6", protocol.Reserved(8)),
		protocol.F("x", protocol.Uint8.Default(0)),
		protocol.F("y", protocol.Uint8.Default(0)),
		protocol.F("width", protocol.Uint8.Default(8)),
	}
}
