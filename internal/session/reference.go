package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/muurk/lifxlan/internal/transport"
)

// Reference selects the devices a send is for.
type Reference interface {
	// Find returns the serials to send to and those that could not be found.
	Find(ctx context.Context, b *transport.Bridge, opts transport.FindOptions) (serials, missing []string, err error)

	// String returns the reference in the form ParseReference reads.
	String() string
}

// FoundSerials is every device that answers discovery.
type FoundSerials struct{}

// Find implements Reference.
func (FoundSerials) Find(ctx context.Context, b *transport.Bridge, opts transport.FindOptions) ([]string, []string, error) {
	found, err := b.FindDevices(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return found, nil, nil
}

func (FoundSerials) String() string { return "_" }

// Serials is a fixed list of devices.
type Serials []string

// Find implements Reference. Only serials that answered are returned; the
// rest are reported as missing.
func (s Serials) Find(ctx context.Context, b *transport.Bridge, opts transport.FindOptions) ([]string, []string, error) {
	wanted := make([]string, 0, len(s))
	for _, serial := range s {
		n, err := transport.NormalizeSerial(serial)
		if err != nil {
			return nil, nil, err
		}
		wanted = append(wanted, n)
	}
	if len(wanted) == 0 {
		return nil, nil, nil
	}

	if _, _, err := b.FindSpecificSerials(ctx, wanted, opts); err != nil {
		return nil, nil, err
	}

	var found, missing []string
	for _, serial := range wanted {
		if b.Found().Has(serial) {
			found = append(found, serial)
		} else {
			missing = append(missing, serial)
		}
	}
	return found, missing, nil
}

func (s Serials) String() string { return strings.Join(s, ",") }

// ParseReference reads the command line form of a reference: "_" (or
// empty) for every device, otherwise a comma separated list of serials.
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "_" {
		return FoundSerials{}, nil
	}

	var serials Serials
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := transport.NormalizeSerial(part)
		if err != nil {
			return nil, fmt.Errorf("parse reference %q: %w", s, err)
		}
		serials = append(serials, n)
	}
	if len(serials) == 0 {
		return nil, fmt.Errorf("parse reference %q: no serials", s)
	}
	return serials, nil
}
