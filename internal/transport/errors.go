package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/muurk/lifxlan/internal/messages"
)

// ErrBridgeStopped is returned by any call made on, or interrupted by, a
// closed bridge.
var ErrBridgeStopped = errors.New("bridge stopped")

// NoDesiredService means the device is known but advertises none of the
// services the caller is willing to use.
type NoDesiredService struct {
	Serial    string
	Wanted    []messages.Service
	Available []messages.Service
}

// Error implements the error interface
func (e *NoDesiredService) Error() string {
	return fmt.Sprintf("no desired service for %s: wanted %s, available %s",
		e.Serial, serviceList(e.Wanted), serviceList(e.Available))
}

// CouldntMakeConnection means the socket for a destination could not be
// opened in time.
type CouldntMakeConnection struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *CouldntMakeConnection) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("couldn't make connection to %s (caused by: %v)", e.Addr, e.Err)
	}
	return fmt.Sprintf("couldn't make connection to %s", e.Addr)
}

// Unwrap returns the underlying error for error chain inspection
func (e *CouldntMakeConnection) Unwrap() error {
	return e.Err
}

// TimedOut means a request ran out of retries or its deadline passed
// without the expected ack and replies.
type TimedOut struct {
	Serial   string
	PktType  string
	Source   uint32
	Sequence uint8
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *TimedOut) Error() string {
	msg := fmt.Sprintf("timed out waiting for %s reply from %s (source=%d sequence=%d attempts=%d)",
		e.PktType, e.Serial, e.Source, e.Sequence, e.Attempts)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *TimedOut) Unwrap() error {
	return e.Err
}

// FoundNoDevices is returned by discovery when no device answered and the
// caller asked for that to be an error.
type FoundNoDevices struct{}

// Error implements the error interface
func (e *FoundNoDevices) Error() string {
	return "didn't find any devices"
}

// DevicesNotFound lists serials that discovery could not locate.
type DevicesNotFound struct {
	Missing []string
}

// Error implements the error interface
func (e *DevicesNotFound) Error() string {
	return "failed to find devices: " + strings.Join(e.Missing, ", ")
}

func serviceList(services []messages.Service) string {
	if len(services) == 0 {
		return "none"
	}
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.String()
	}
	return strings.Join(names, ",")
}
