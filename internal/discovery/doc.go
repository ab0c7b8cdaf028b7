// Package discovery finds LIFX devices over mDNS and turns them into
// hints for the LAN transport.
//
// LAN discovery proper is a GetService broadcast (see package transport).
// On networks that drop broadcast, the mDNS advertisements LIFX products
// make for HomeKit still get through. This package browses for them, keeps
// entries whose TXT "md" value or instance name starts with "LIFX", and
// reads the serial from the TXT "id" record (the device MAC).
//
// # Usage Example
//
//	devices, err := discovery.ScanForDevices(ctx, 3*time.Second)
//	if err != nil {
//	    return err
//	}
//
//	opts := transport.DefaultOptions()
//	opts.Discovery.Hardcoded = discovery.Hints(devices)
//
// Hints always use the LIFX LAN port, 56700; the advertised port belongs
// to HomeKit.
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Firewall must allow mDNS (UDP port 5353)
package discovery
