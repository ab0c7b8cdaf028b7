package fakedevice

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/muurk/lifxlan/internal/logging"
)

// ServeUDP answers datagrams arriving on conn until ctx is done or conn is
// closed. The device's advertised port is set to the port conn is bound
// to. conn is closed on return.
func (d *Device) ServeUDP(ctx context.Context, conn net.PacketConn) error {
	if u, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		d.SetPort(u.Port)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	logging.Info("Fake device listening",
		logging.Serial(d.serial),
		zap.String("local_addr", conn.LocalAddr().String()),
	)

	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		responses, err := d.HandleBytes(buf[:n])
		if err != nil {
			logging.Warn("Fake device dropped datagram",
				logging.Serial(d.serial),
				logging.RemoteAddr(addr.String()),
				zap.Error(err),
			)
			logging.LogRawBytes("Undecodable datagram", buf[:n])
			continue
		}
		for _, res := range responses {
			if _, err := conn.WriteTo(res, addr); err != nil {
				logging.Warn("Fake device failed to reply",
					logging.Serial(d.serial),
					logging.RemoteAddr(addr.String()),
					zap.Error(err),
				)
			}
		}
	}
}
