package fakedevice

import (
	"time"

	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
)

func defaultResponders() []Responder {
	return []Responder{
		servicesResponder,
		echoResponder,
		deviceResponder,
		membershipResponder,
		lightResponder,
		infraredResponder,
		zonesResponder,
		tileResponder,
	}
}

// one builds a single reply and reports the request handled.
func one(d *Device, req *protocol.Packet, m *protocol.Message, values map[string]any) ([]*protocol.Packet, bool) {
	pkt, err := d.reply(req, m, values)
	if err != nil {
		return nil, true
	}
	return []*protocol.Packet{pkt}, true
}

func servicesResponder(d *Device, _ *State, req *protocol.Packet) ([]*protocol.Packet, bool) {
	if !req.Is(messages.GetService) {
		return nil, false
	}
	return one(d, req, messages.StateService, map[string]any{
		"service": messages.ServiceUDP,
		"port":    d.port,
	})
}

func echoResponder(d *Device, _ *State, req *protocol.Packet) ([]*protocol.Packet, bool) {
	if !req.Is(messages.EchoRequest) {
		return nil, false
	}
	return one(d, req, messages.EchoResponse, map[string]any{"echoing": req.Bytes("echoing")})
}

func deviceResponder(d *Device, s *State, req *protocol.Packet) ([]*protocol.Packet, bool) {
	switch {
	case req.Is(messages.GetPower), req.Is(messages.SetPower):
		// Set replies carry the level from before the change.
		level := s.Power
		if req.Is(messages.SetPower) {
			s.Power = uint16(req.Uint("level"))
		}
		return one(d, req, messages.StatePower, map[string]any{"level": level})

	case req.Is(messages.GetLabel), req.Is(messages.SetLabel):
		if req.Is(messages.SetLabel) {
			s.Label = req.Str("label")
		}
		return one(d, req, messages.StateLabel, map[string]any{"label": s.Label})

	case req.Is(messages.GetVersion):
		return one(d, req, messages.StateVersion, map[string]any{
			"vendor": s.Vendor, "product": s.Product, "version": 0,
		})

	case req.Is(messages.GetHostFirmware):
		return one(d, req, messages.StateHostFirmware, firmwareValues(s.HostFirmware))

	case req.Is(messages.GetWifiFirmware):
		return one(d, req, messages.StateWifiFirmware, firmwareValues(s.WifiFirmware))

	case req.Is(messages.GetHostInfo):
		return one(d, req, messages.StateHostInfo, map[string]any{"signal": 0, "tx": 0, "rx": 0})

	case req.Is(messages.GetWifiInfo):
		return one(d, req, messages.StateWifiInfo, map[string]any{"signal": s.Signal, "tx": 0, "rx": 0})

	case req.Is(messages.GetInfo):
		now := time.Now()
		return one(d, req, messages.StateInfo, map[string]any{
			"time":     uint64(now.UnixNano()),
			"uptime":   now.Sub(s.Started).Seconds(),
			"downtime": 0,
		})
	}
	return nil, false
}

func firmwareValues(f Firmware) map[string]any {
	version := f.Version
	if version == "" {
		version = "0.0"
	}
	return map[string]any{"build": f.Build, "version": version}
}

func membershipResponder(d *Device, s *State, req *protocol.Packet) ([]*protocol.Packet, bool) {
	switch {
	case req.Is(messages.GetLocation), req.Is(messages.SetLocation):
		if req.Is(messages.SetLocation) {
			s.Location = Membership{
				ID:        req.Bytes("location"),
				Label:     req.Str("label"),
				UpdatedAt: req.Uint("updated_at"),
			}
		}
		return one(d, req, messages.StateLocation, map[string]any{
			"location":   padded(s.Location.ID, 16),
			"label":      s.Location.Label,
			"updated_at": s.Location.UpdatedAt,
		})

	case req.Is(messages.GetGroup), req.Is(messages.SetGroup):
		if req.Is(messages.SetGroup) {
			s.Group = Membership{
				ID:        req.Bytes("group"),
				Label:     req.Str("label"),
				UpdatedAt: req.Uint("updated_at"),
			}
		}
		return one(d, req, messages.StateGroup, map[string]any{
			"group":      padded(s.Group.ID, 16),
			"label":      s.Group.Label,
			"updated_at": s.Group.UpdatedAt,
		})
	}
	return nil, false
}

func lightResponder(d *Device, s *State, req *protocol.Packet) ([]*protocol.Packet, bool) {
	switch {
	case req.Is(messages.GetColor):
	case req.Is(messages.SetColor), req.Is(messages.SetWaveform):
		s.Color = colorOf(req)
	case req.Is(messages.SetWaveformOptional):
		if req.Bool("set_hue") {
			s.Color.Hue = req.Float("hue")
		}
		if req.Bool("set_saturation") {
			s.Color.Saturation = req.Float("saturation")
		}
		if req.Bool("set_brightness") {
			s.Color.Brightness = req.Float("brightness")
		}
		if req.Bool("set_kelvin") {
			s.Color.Kelvin = req.Uint("kelvin")
		}

	case req.Is(messages.GetLightPower), req.Is(messages.SetLightPower):
		level := s.Power
		if req.Is(messages.SetLightPower) {
			s.Power = uint16(req.Uint("level"))
		}
		return one(d, req, messages.StateLightPower, map[string]any{"level": level})

	default:
		return nil, false
	}

	values := colorValues(s.Color)
	values["power"] = s.Power
	values["label"] = s.Label
	return one(d, req, messages.LightState, values)
}

func infraredResponder(d *Device, s *State, req *protocol.Packet) ([]*protocol.Packet, bool) {
	switch {
	case req.Is(messages.GetInfrared):
	case req.Is(messages.SetInfrared):
		s.Infrared = uint16(req.Uint("brightness"))
	default:
		return nil, false
	}
	return one(d, req, messages.StateInfrared, map[string]any{"brightness": s.Infrared})
}

func zonesResponder(d *Device, s *State, req *protocol.Packet) ([]*protocol.Packet, bool) {
	if len(s.Zones) == 0 {
		return nil, false
	}

	switch {
	case req.Is(messages.GetColorZones), req.Is(messages.SetColorZones):
		start := int(req.Uint("start_index"))
		end := min(int(req.Uint("end_index")), len(s.Zones)-1)
		if req.Is(messages.SetColorZones) {
			color := colorOf(req)
			for i := start; i <= end; i++ {
				s.Zones[i] = color
			}
		}
		var out []*protocol.Packet
		for i := (start / 8) * 8; i <= end; i += 8 {
			pkt, err := d.reply(req, messages.StateMultiZone, map[string]any{
				"zones_count": len(s.Zones),
				"zone_index":  i,
				"colors":      colorList(s.Zones[i:min(i+8, len(s.Zones))]),
			})
			if err == nil {
				out = append(out, pkt)
			}
		}
		return out, true

	case req.Is(messages.GetExtendedColorZones), req.Is(messages.SetExtendedColorZones):
		if req.Is(messages.SetExtendedColorZones) {
			index := int(req.Uint("zone_index"))
			colors := messages.ExtendedColors(req)
			for i := 0; i < len(colors) && index+i < len(s.Zones); i++ {
				s.Zones[index+i] = colorFromValue(colors[i])
			}
		}
		shown := s.Zones[:min(82, len(s.Zones))]
		return one(d, req, messages.StateExtendedColorZones, map[string]any{
			"zones_count":  len(s.Zones),
			"zone_index":   0,
			"colors_count": len(shown),
			"colors":       colorList(shown),
		})
	}
	return nil, false
}

func tileResponder(d *Device, s *State, req *protocol.Packet) ([]*protocol.Packet, bool) {
	if len(s.Tiles) == 0 {
		return nil, false
	}

	switch {
	case req.Is(messages.GetDeviceChain):
		tiles := make([]map[string]any, len(s.Tiles))
		for i, t := range s.Tiles {
			tiles[i] = map[string]any{
				"user_x":                 t.UserX,
				"user_y":                 t.UserY,
				"width":                  t.Width,
				"height":                 t.Height,
				"device_version_vendor":  s.Vendor,
				"device_version_product": s.Product,
				"firmware_build":         s.HostFirmware.Build,
				"firmware_version":       firmwareValues(s.HostFirmware)["version"],
			}
		}
		return one(d, req, messages.StateDeviceChain, map[string]any{
			"start_index":        0,
			"tile_devices":       tiles,
			"tile_devices_count": len(s.Tiles),
		})

	case req.Is(messages.SetUserPosition):
		i := int(req.Uint("tile_index"))
		if i < len(s.Tiles) {
			s.Tiles[i].UserX = req.Float("user_x")
			s.Tiles[i].UserY = req.Float("user_y")
		}
		return nil, true

	case req.Is(messages.Get64):
		first := int(req.Uint("tile_index"))
		last := min(first+int(req.Uint("length")), len(s.Tiles))
		var out []*protocol.Packet
		for i := first; i < last; i++ {
			pkt, err := d.reply(req, messages.State64, map[string]any{
				"tile_index": i,
				"x":          req.Uint("x"),
				"y":          req.Uint("y"),
				"width":      req.Uint("width"),
				"colors":     colorList(s.Tiles[i].Colors),
			})
			if err == nil {
				out = append(out, pkt)
			}
		}
		return out, true

	case req.Is(messages.Set64):
		first := int(req.Uint("tile_index"))
		last := min(first+int(req.Uint("length")), len(s.Tiles))
		colors := req.List("colors")
		for i := first; i < last; i++ {
			for j := 0; j < len(colors) && j < len(s.Tiles[i].Colors); j++ {
				s.Tiles[i].Colors[j] = colorFromValue(colors[j])
			}
		}
		return nil, true
	}
	return nil, false
}

func colorOf(req *protocol.Packet) HSBK {
	return HSBK{
		Hue:        req.Float("hue"),
		Saturation: req.Float("saturation"),
		Brightness: req.Float("brightness"),
		Kelvin:     req.Uint("kelvin"),
	}
}

func colorValues(c HSBK) map[string]any {
	return map[string]any{
		"hue":        c.Hue,
		"saturation": c.Saturation,
		"brightness": c.Brightness,
		"kelvin":     c.Kelvin,
	}
}

func colorList(colors []HSBK) []map[string]any {
	out := make([]map[string]any, len(colors))
	for i, c := range colors {
		out[i] = colorValues(c)
	}
	return out
}

func colorFromValue(v any) HSBK {
	m, _ := v.(map[string]any)
	return HSBK{
		Hue:        number(m["hue"]),
		Saturation: number(m["saturation"]),
		Brightness: number(m["brightness"]),
		Kelvin:     uint64(number(m["kelvin"])),
	}
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case uint64:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func padded(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}
