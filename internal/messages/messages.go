package messages

import (
	"github.com/muurk/lifxlan/internal/protocol"
)

// Core
var (
	Acknowledgement = msg("Acknowledgement", 45).AsAck()
)

// Discovery
var (
	GetService = msg("GetService", 2).WithMulti(protocol.Unbounded())

	StateService = msg("StateService", 3,
		protocol.F("service", protocol.Uint8.Enum(Services)),
		protocol.F("port", protocol.Uint32),
	)
)

// Device
var (
	GetHostInfo = msg("GetHostInfo", 12)

	StateHostInfo = msg("StateHostInfo", 13,
		protocol.F("signal", protocol.Float32),
		protocol.F("tx", protocol.Uint32),
		protocol.F("rx", protocol.Uint32),
		protocol.F("reserved6", protocol.Reserved(16)),
	)

	GetHostFirmware = msg("GetHostFirmware", 14)

	StateHostFirmware = msg("StateHostFirmware", 15,
		protocol.F("build", protocol.Uint64),
		protocol.F("reserved6", protocol.Reserved(64)),
		protocol.F("version", Version),
	)

	GetWifiInfo = msg("GetWifiInfo", 16)

	StateWifiInfo = StateHostInfo.Using("StateWifiInfo", 17)

	GetWifiFirmware = msg("GetWifiFirmware", 18)

	StateWifiFirmware = StateHostFirmware.Using("StateWifiFirmware", 19)

	GetPower = msg("GetPower", 20)

	SetPower = msg("SetPower", 21,
		protocol.F("level", protocol.Uint16),
	)

	StatePower = SetPower.Using("StatePower", 22)

	GetLabel = msg("GetLabel", 23)

	SetLabel = msg("SetLabel", 24,
		protocol.F("label", protocol.String(32*8)),
	)

	StateLabel = SetLabel.Using("StateLabel", 25)

	GetVersion = msg("GetVersion", 32)

	StateVersion = msg("StateVersion", 33,
		protocol.F("vendor", protocol.Uint32),
		protocol.F("product", protocol.Uint32),
		protocol.F("version", protocol.Uint32),
	)

	GetInfo = msg("GetInfo", 34)

	StateInfo = msg("StateInfo", 35,
		protocol.F("time", protocol.Uint64),
		protocol.F("uptime", NanoToSeconds),
		protocol.F("downtime", NanoToSeconds),
	)

	GetLocation = msg("GetLocation", 48)

	SetLocation = msg("SetLocation", 49,
		protocol.F("location", protocol.Bytes(16*8)),
		protocol.F("label", protocol.String(32*8)),
		protocol.F("updated_at", protocol.Uint64),
	)

	StateLocation = SetLocation.Using("StateLocation", 50)

	GetGroup = msg("GetGroup", 51)

	SetGroup = msg("SetGroup", 52,
		protocol.F("group", protocol.Bytes(16*8)),
		protocol.F("label", protocol.String(32*8)),
		protocol.F("updated_at", protocol.Uint64),
	)

	StateGroup = SetGroup.Using("StateGroup", 53)

	EchoRequest = msg("EchoRequest", 58,
		protocol.F("echoing", protocol.Bytes(64*8)),
	)

	EchoResponse = EchoRequest.Using("EchoResponse", 59)
)

// Light
var (
	GetColor = msg("GetColor", 101)

	SetColor = msg("SetColor", 102, concat(
		[]protocol.Field{protocol.F("reserved6", protocol.Reserved(8))},
		hsbk(),
		[]protocol.Field{protocol.F("duration", Duration)},
	)...)

	SetWaveform = msg("SetWaveform", 103, concat(
		[]protocol.Field{
			protocol.F("reserved6", protocol.Reserved(8)),
			protocol.F("transient", protocol.BoolInt.Default(false)),
		},
		hsbk(),
		waveformTail(),
	)...)

	LightState = msg("LightState", 107, concat(
		hsbk(),
		[]protocol.Field{
			protocol.F("reserved6", protocol.Reserved(16)),
			protocol.F("power", protocol.Uint16),
			protocol.F("label", protocol.String(32*8)),
			protocol.F("reserved7", protocol.Reserved(64)),
		},
	)...)

	GetLightPower = msg("GetLightPower", 116)

	SetLightPower = msg("SetLightPower", 117,
		protocol.F("level", protocol.Uint16),
		protocol.F("duration", Duration),
	)

	StateLightPower = msg("StateLightPower", 118,
		protocol.F("level", protocol.Uint16),
	)

	SetWaveformOptional = msg("SetWaveformOptional", 119, concat(
		[]protocol.Field{
			protocol.F("reserved6", protocol.Reserved(8)),
			protocol.F("transient", protocol.BoolInt.Default(false)),
		},
		hsbkOptional(),
		waveformTail(),
		[]protocol.Field{
			protocol.F("set_hue", protocol.BoolInt.DefaultFunc(given("hue"))),
			protocol.F("set_saturation", protocol.BoolInt.DefaultFunc(given("saturation"))),
			protocol.F("set_brightness", protocol.BoolInt.DefaultFunc(given("brightness"))),
			protocol.F("set_kelvin", protocol.BoolInt.DefaultFunc(given("kelvin"))),
		},
	)...)

	GetInfrared = msg("GetInfrared", 120)

	StateInfrared = msg("StateInfrared", 121,
		protocol.F("brightness", protocol.Uint16),
	)

	SetInfrared = StateInfrared.Using("SetInfrared", 122)
)

// MultiZone
var (
	SetColorZones = msg("SetColorZones", 501, concat(
		[]protocol.Field{
			protocol.F("start_index", protocol.Uint8),
			protocol.F("end_index", protocol.Uint8),
		},
		hsbk(),
		[]protocol.Field{
			protocol.F("duration", Duration),
			protocol.F("apply", protocol.Uint8.Enum(ApplicationRequest).Default("APPLY")),
		},
	)...)

	GetColorZones = msg("GetColorZones", 502,
		protocol.F("start_index", protocol.Uint8),
		protocol.F("end_index", protocol.Uint8),
	).WithMulti(protocol.CountFromFirst(colorZonesReplies, StateZone, StateMultiZone))

	StateZone = msg("StateZone", 503, concat(
		[]protocol.Field{
			protocol.F("zones_count", protocol.Uint8),
			protocol.F("zone_index", protocol.Uint8),
		},
		hsbk(),
	)...)

	StateMultiZone = msg("StateMultiZone", 506,
		protocol.F("zones_count", protocol.Uint8),
		protocol.F("zone_index", protocol.Uint8),
		protocol.F("colors", protocol.Struct(Color).Multiple(8)),
	)

	SetExtendedColorZones = msg("SetExtendedColorZones", 510,
		protocol.F("duration", Duration),
		protocol.F("apply", protocol.Uint8.Enum(ApplicationRequest).Default("APPLY")),
		protocol.F("zone_index", protocol.Uint16),
		protocol.F("colors_count", protocol.Uint8),
		protocol.F("colors", protocol.Struct(Color).Multiple(82)),
	)

	GetExtendedColorZones = msg("GetExtendedColorZones", 511)

	StateExtendedColorZones = msg("StateExtendedColorZones", 512,
		protocol.F("zones_count", protocol.Uint16),
		protocol.F("zone_index", protocol.Uint16),
		protocol.F("colors_count", protocol.Uint8),
		protocol.F("colors", protocol.Struct(Color).Multiple(82)),
	)
)

// Tile
var (
	GetDeviceChain = msg("GetDeviceChain", 701)

	StateDeviceChain = msg("StateDeviceChain", 702,
		protocol.F("start_index", protocol.Uint8),
		protocol.F("tile_devices", protocol.Struct(Tile).Multiple(16)),
		protocol.F("tile_devices_count", protocol.Uint8),
	)

	SetUserPosition = msg("SetUserPosition", 703,
		protocol.F("tile_index", protocol.Uint8),
		protocol.F("reserved6", protocol.Reserved(16)),
		protocol.F("user_x", protocol.Float32),
		protocol.F("user_y", protocol.Float32),
	)

	Get64 = msg("Get64", 707, concat(
		[]protocol.Field{
			protocol.F("tile_index", protocol.Uint8),
			protocol.F("length", protocol.Uint8),
		},
		tileBufferRect(),
	)...).WithMulti(protocol.AtMost(get64Replies, State64))

	State64 = msg("State64", 711, concat(
		[]protocol.Field{protocol.F("tile_index", protocol.Uint8)},
		tileBufferRect(),
		[]protocol.Field{protocol.F("colors", protocol.Struct(Color).Multiple(64))},
	)...)

	Set64 = msg("Set64", 715, concat(
		[]protocol.Field{
			protocol.F("tile_index", protocol.Uint8),
			protocol.F("length", protocol.Uint8),
		},
		tileBufferRect(),
		[]protocol.Field{
			protocol.F("duration", Duration),
			protocol.F("colors", protocol.Struct(Color).Multiple(64)),
		},
	)...)
)

// All returns the catalogue of protocol 1024.
func All() []*protocol.Message {
	return []*protocol.Message{
		Acknowledgement,
		GetService, StateService,
		GetHostInfo, StateHostInfo, GetHostFirmware, StateHostFirmware,
		GetWifiInfo, StateWifiInfo, GetWifiFirmware, StateWifiFirmware,
		GetPower, SetPower, StatePower,
		GetLabel, SetLabel, StateLabel,
		GetVersion, StateVersion,
		GetInfo, StateInfo,
		GetLocation, SetLocation, StateLocation,
		GetGroup, SetGroup, StateGroup,
		EchoRequest, EchoResponse,
		GetColor, SetColor, SetWaveform, LightState,
		GetLightPower, SetLightPower, StateLightPower,
		SetWaveformOptional,
		GetInfrared, StateInfrared, SetInfrared,
		SetColorZones, GetColorZones, StateZone, StateMultiZone,
		SetExtendedColorZones, GetExtendedColorZones, StateExtendedColorZones,
		GetDeviceChain, StateDeviceChain, SetUserPosition,
		Get64, State64, Set64,
	}
}

// NewRegistry returns a registry holding protocol 1024.
func NewRegistry() (*protocol.Registry, error) {
	r := protocol.NewRegistry()
	if err := r.Register(protocol.Protocol{ID: ProtocolLIFX, Frame: Frame, Messages: All()}); err != nil {
		return nil, err
	}
	return r, nil
}

// MustRegistry is NewRegistry for program start up.
func MustRegistry() *protocol.Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

func waveformTail() []protocol.Field {
	return []protocol.Field{
		protocol.F("period", Duration),
		protocol.F("cycles", protocol.Float32.Default(1)),
		protocol.F("skew_ratio", WaveformSkewRatio),
		protocol.F("waveform", protocol.Uint8.Enum(Waveform).Default("SAW")),
	}
}

// given is true when the field was set explicitly.
func given(name string) func(*protocol.Context) (any, error) {
	return func(c *protocol.Context) (any, error) {
		return c.Has(name), nil
	}
}

// colorZonesReplies is the number of StateZone/StateMultiZone replies a
// device sends: one per eight zones up to end_index, bounded by the zone
// count in the first reply.
func colorZonesReplies(req, first *protocol.Packet) int {
	upTo := int(req.Uint("end_index"))/8 + 1
	total := (int(first.Uint("zones_count")) + 7) / 8
	return min(upTo, total)
}

// ExtendedColors returns the colors of a SetExtendedColorZones or
// StateExtendedColorZones packet that colors_count marks as used. The wire
// always carries 82 slots; the rest are padding.
func ExtendedColors(pkt *protocol.Packet) []any {
	colors := pkt.List("colors")
	return colors[:min(int(pkt.Uint("colors_count")), len(colors))]
}

func get64Replies(req *protocol.Packet) int {
	return int(req.Uint("length"))
}

func concat(groups ...[]protocol.Field) []protocol.Field {
	var out []protocol.Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
