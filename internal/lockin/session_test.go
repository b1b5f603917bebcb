package lockin

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/device"
	"github.com/KevinKickass/OpenLockIn/internal/simulator"
	"github.com/KevinKickass/OpenLockIn/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAmplifier_ReadsRecoverAfterInstrumentTimeout(t *testing.T) {
	sim := simulator.New(simulator.Config{Address: "127.0.0.1:0", Amplitude: 0.25}, zap.NewNop())
	require.NoError(t, sim.Start())
	t.Cleanup(func() { sim.Close() })

	opts := transport.Options{Timeout: 100 * time.Millisecond, Terminator: '\n'}
	open := func(ctx context.Context, endpoint string) (Transport, error) {
		return transport.Open(ctx, endpoint, opts)
	}

	ctx := context.Background()
	amp := New(Config{Name: "lab/lockin/1", Endpoint: sim.Addr()}, open, zap.NewNop())
	require.NoError(t, amp.Init(ctx))
	defer amp.Delete(ctx)

	sim.SetFault(simulator.FaultSilent)
	_, err := amp.ReadX(ctx)
	require.ErrorIs(t, err, ErrQuery)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	sim.SetFault(simulator.FaultNone)
	for i := 0; i < 3; i++ {
		x, err := amp.ReadX(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.25, x, 1e-9)
	}
	assert.Equal(t, device.StateOn, amp.State())
}
