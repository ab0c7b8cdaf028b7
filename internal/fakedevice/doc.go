// Package fakedevice provides virtual LIFX devices for tests and for the
// lifx-fake command.
//
// A Device keeps a State and answers the message catalogue: it acks any
// request with ack_required, always answers Get messages, and answers Set
// messages when res_required is set. Set replies carry the state from
// before the change, as real bulbs do.
//
// Faults are switched on with functions that return their own undo:
//
//	restore := device.NoAcksFor(messages.SetPower)
//	defer restore()
//
// A Network connects devices and clients in memory, with broadcast, so
// transport tests need no sockets. ServeUDP puts a device on a real UDP
// socket.
package fakedevice
