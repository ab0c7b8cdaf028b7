// Package messages defines protocol 1024, the LIFX LAN protocol: its 36
// byte frame, field transforms, enums and message catalogue.
//
// Every message is built from Frame with its payload placeholder replaced
// by the message fields. Fields whose logical value differs from the wire
// value carry a transform:
//   - Duration: seconds as a u32 count of milliseconds
//   - NanoToSeconds: seconds as a u64 count of nanoseconds
//   - ScaledHue: degrees as a u16 fraction of a turn
//   - ScaledTo65535: a 0..1 ratio as a u16
//   - WaveformSkewRatio: a 0..1 ratio as an i16
//   - Version: "major.minor" as a u32
//
// Call NewRegistry once at start up and pass the registry to the
// transport; there is no package-level registry.
package messages
