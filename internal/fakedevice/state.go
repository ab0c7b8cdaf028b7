package fakedevice

import "time"

// HSBK is a colour as the protocol carries it.
type HSBK struct {
	Hue        float64
	Saturation float64
	Brightness float64
	Kelvin     uint64
}

// Membership is a location or group assignment.
type Membership struct {
	ID        []byte
	Label     string
	UpdatedAt uint64
}

// Firmware is a firmware build and version.
type Firmware struct {
	Build   uint64
	Version string
}

// Tile is one tile in a device chain.
type Tile struct {
	UserX, UserY float64
	Width        uint8
	Height       uint8
	Colors       []HSBK
}

// State is everything a fake device reports about itself.
type State struct {
	Label    string
	Power    uint16
	Color    HSBK
	Infrared uint16

	Vendor  uint32
	Product uint32

	HostFirmware Firmware
	WifiFirmware Firmware
	Signal       float64

	Location Membership
	Group    Membership

	// Zones is set for multizone strips.
	Zones []HSBK

	// Tiles is set for tile chains.
	Tiles []Tile

	Started time.Time
}

// DefaultState is a white A19 bulb that is switched off.
func DefaultState(label string) State {
	return State{
		Label:        label,
		Color:        HSBK{Brightness: 1, Kelvin: 3500},
		Vendor:       1,
		Product:      27,
		HostFirmware: Firmware{Build: 1548977726000000000, Version: "3.70"},
		WifiFirmware: Firmware{Version: "0.0"},
		Signal:       1e-5,
		Started:      time.Now(),
	}
}

// StripState is a multizone strip with count zones.
func StripState(label string, count int) State {
	s := DefaultState(label)
	s.Product = 32
	s.Zones = make([]HSBK, count)
	for i := range s.Zones {
		s.Zones[i] = s.Color
	}
	return s
}

// TileState is a chain of count 8x8 tiles.
func TileState(label string, count int) State {
	s := DefaultState(label)
	s.Product = 55
	s.Tiles = make([]Tile, count)
	for i := range s.Tiles {
		colors := make([]HSBK, 64)
		for j := range colors {
			colors[j] = s.Color
		}
		s.Tiles[i] = Tile{Width: 8, Height: 8, Colors: colors}
	}
	return s
}

func (s State) clone() State {
	out := s
	out.Zones = append([]HSBK(nil), s.Zones...)
	out.Tiles = make([]Tile, len(s.Tiles))
	for i, t := range s.Tiles {
		t.Colors = append([]HSBK(nil), t.Colors...)
		out.Tiles[i] = t
	}
	if s.Tiles == nil {
		out.Tiles = nil
	}
	return out
}
