package system

import (
	"context"

	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/KevinKickass/OpenLockIn/internal/lockin"
	"github.com/KevinKickass/OpenLockIn/internal/transport"
)

// InstrumentOpener returns the function the lock-in adapter uses to open
// its session, configured from the device and serial sections.
func InstrumentOpener(cfg *config.Config) lockin.OpenFunc {
	opts := transport.Options{
		DefaultPort: cfg.Device.SocketPort,
		Timeout:     cfg.Device.Timeout,
		Terminator:  cfg.Device.TerminatorByte(),
		Serial: transport.SerialOptions{
			BaudRate: cfg.Serial.BaudRate,
			DataBits: cfg.Serial.DataBits,
			Parity:   cfg.Serial.Parity,
			StopBits: cfg.Serial.StopBits,
		},
	}

	return func(ctx context.Context, endpoint string) (lockin.Transport, error) {
		return transport.Open(ctx, endpoint, opts)
	}
}
