package lockin

import (
	"context"
	"errors"
	"testing"

	"github.com/KevinKickass/OpenLockIn/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testEndpoint = "TCPIP::192.168.1.242::INSTR"

var errLinkDown = errors.New("link down")

func openWith(inst Transport) OpenFunc {
	return func(ctx context.Context, endpoint string) (Transport, error) {
		return inst, nil
	}
}

func newTestAmplifier(t *testing.T) (*Amplifier, *MockTransport, *observer.ObservedLogs) {
	t.Helper()

	ctrl := gomock.NewController(t)
	inst := NewMockTransport(ctrl)
	core, logs := observer.New(zapcore.DebugLevel)

	amp := New(Config{Name: "lab/lockin/1", Endpoint: testEndpoint}, openWith(inst), zap.New(core))
	return amp, inst, logs
}

func initAmplifier(t *testing.T) (*Amplifier, *MockTransport, *observer.ObservedLogs) {
	t.Helper()

	amp, inst, logs := newTestAmplifier(t)
	inst.EXPECT().Query(gomock.Any(), QueryIdentify).Return("Stanford_Research_Systems,SR830,s/n48132,ver1.07", nil)
	require.NoError(t, amp.Init(context.Background()))
	return amp, inst, logs
}

func TestInitEstablishesConnection(t *testing.T) {
	amp, _, logs := initAmplifier(t)

	assert.Equal(t, device.StateOn, amp.State())
	assert.Equal(t, "Stanford_Research_Systems,SR830,s/n48132,ver1.07", amp.Identity())
	assert.Equal(t, "The device is in ON state.", amp.Status())

	x, y, r, phase := amp.Cached()
	assert.Zero(t, x)
	assert.Zero(t, y)
	assert.Zero(t, r)
	assert.Zero(t, phase)

	assert.Equal(t, 1, logs.FilterMessage("Connection established!").Len())
	assert.Equal(t, 0, logs.FilterMessage("Instrument could not be initialized.").Len())
}

func TestInitEmptyIdentificationIsNotFatal(t *testing.T) {
	amp, inst, logs := newTestAmplifier(t)
	inst.EXPECT().Query(gomock.Any(), QueryIdentify).Return("", nil)

	require.NoError(t, amp.Init(context.Background()))

	assert.Equal(t, device.StateOn, amp.State())
	notices := logs.FilterMessage("Instrument could not be initialized.")
	require.Equal(t, 1, notices.Len())
	assert.Equal(t, zapcore.WarnLevel, notices.All()[0].Level)
}

func TestInitOpenFailureIsFatal(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	amp := New(Config{Name: "lab/lockin/1", Endpoint: testEndpoint}, func(ctx context.Context, endpoint string) (Transport, error) {
		assert.Equal(t, testEndpoint, endpoint)
		return nil, errLinkDown
	}, zap.New(core))

	err := amp.Init(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, errLinkDown)
	assert.NotEqual(t, device.StateOn, amp.State())
	assert.Contains(t, amp.Status(), "Connection failed")

	_, err = amp.ReadX(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInitIdentificationFailureClosesSession(t *testing.T) {
	amp, inst, _ := newTestAmplifier(t)
	gomock.InOrder(
		inst.EXPECT().Query(gomock.Any(), QueryIdentify).Return("", errLinkDown),
		inst.EXPECT().Close().Return(nil),
	)

	err := amp.Init(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.NotEqual(t, device.StateOn, amp.State())
}

func TestInitIdentificationFailureLogsCloseError(t *testing.T) {
	amp, inst, logs := newTestAmplifier(t)
	errClose := errors.New("socket already reset")
	gomock.InOrder(
		inst.EXPECT().Query(gomock.Any(), QueryIdentify).Return("", errLinkDown),
		inst.EXPECT().Close().Return(errClose),
	)

	err := amp.Init(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, errLinkDown)

	warns := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("Closing session after failed identification").All()
	require.Len(t, warns, 1)
	assert.Equal(t, errClose.Error(), warns[0].ContextMap()["error"])
}

func TestReadReturnsAndCachesValue(t *testing.T) {
	amp, inst, _ := initAmplifier(t)

	tests := []struct {
		name  string
		query string
		reply string
		read  func(context.Context) (float64, error)
		want  float64
	}{
		{"X", QueryX, "1.234e-3", amp.ReadX, 1.234e-3},
		{"Y", QueryY, "-5.5e-4\n", amp.ReadY, -5.5e-4},
		{"R", QueryR, " 1.3e-3 ", amp.ReadR, 1.3e-3},
		{"phase", QueryPhase, "-23.75", amp.ReadPhase, -23.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst.EXPECT().Query(gomock.Any(), tt.query).Return(tt.reply, nil).Times(1)

			v, err := tt.read(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v, 1e-12)
		})
	}

	x, y, r, phase := amp.Cached()
	assert.InDelta(t, 1.234e-3, x, 1e-12)
	assert.InDelta(t, -5.5e-4, y, 1e-12)
	assert.InDelta(t, 1.3e-3, r, 1e-12)
	assert.InDelta(t, -23.75, phase, 1e-12)
}

func TestReadParseFailureKeepsCache(t *testing.T) {
	amp, inst, _ := initAmplifier(t)

	inst.EXPECT().Query(gomock.Any(), QueryY).Return("0.5", nil)
	_, err := amp.ReadY(context.Background())
	require.NoError(t, err)

	for _, reply := range []string{"garbage", "", "  ", "NaN", "+Inf"} {
		inst.EXPECT().Query(gomock.Any(), QueryY).Return(reply, nil)

		v, err := amp.ReadY(context.Background())
		assert.ErrorIs(t, err, ErrParse, "reply %q", reply)
		assert.Zero(t, v)

		_, y, _, _ := amp.Cached()
		assert.Equal(t, 0.5, y, "cache changed after reply %q", reply)
	}
}

func TestReadTransportFailureKeepsCache(t *testing.T) {
	amp, inst, _ := initAmplifier(t)

	inst.EXPECT().Query(gomock.Any(), QueryR).Return("", errLinkDown)

	_, err := amp.ReadR(context.Background())
	assert.ErrorIs(t, err, ErrQuery)
	assert.ErrorIs(t, err, errLinkDown)

	_, _, r, _ := amp.Cached()
	assert.Zero(t, r)
}

func TestRepeatedReadsAreNotCached(t *testing.T) {
	amp, inst, _ := initAmplifier(t)

	gomock.InOrder(
		inst.EXPECT().Query(gomock.Any(), QueryX).Return("1.0", nil),
		inst.EXPECT().Query(gomock.Any(), QueryX).Return("2.0", nil),
	)

	first, err := amp.ReadX(context.Background())
	require.NoError(t, err)
	second, err := amp.ReadX(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, first)
	assert.Equal(t, 2.0, second)
}

func TestCommandsOnlyChangeState(t *testing.T) {
	// The mock fails the test on any unexpected Query call.
	amp, _, _ := initAmplifier(t)
	ctx := context.Background()

	require.NoError(t, amp.TurnOff(ctx))
	assert.Equal(t, device.StateOff, amp.State())

	require.NoError(t, amp.TurnOn(ctx))
	assert.Equal(t, device.StateOn, amp.State())

	require.NoError(t, amp.TurnOff(ctx))
	assert.Equal(t, device.StateOff, amp.State())
}

func TestReadsAllowedWhileOff(t *testing.T) {
	amp, inst, _ := initAmplifier(t)
	require.NoError(t, amp.TurnOff(context.Background()))

	inst.EXPECT().Query(gomock.Any(), QueryPhase).Return("90", nil)
	v, err := amp.ReadPhase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90.0, v)
}

func TestDeleteReleasesSession(t *testing.T) {
	amp, inst, logs := initAmplifier(t)
	inst.EXPECT().Close().Return(nil).Times(1)

	require.NoError(t, amp.Delete(context.Background()))
	assert.Equal(t, device.StateOff, amp.State())
	assert.Equal(t, 1, logs.FilterMessage("A device was deleted!").Len())

	// A second delete has no session left to close.
	require.NoError(t, amp.Delete(context.Background()))

	_, err := amp.ReadX(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSnapshot(t *testing.T) {
	amp, inst, _ := initAmplifier(t)

	inst.EXPECT().Query(gomock.Any(), QuerySnapshot).Return("1e-3,2e-3,3e-3,45.0", nil)

	values, err := amp.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"X": 1e-3, "Y": 2e-3, "R": 3e-3, "phase": 45.0}, values)

	x, y, r, phase := amp.Cached()
	assert.Equal(t, []float64{1e-3, 2e-3, 3e-3, 45.0}, []float64{x, y, r, phase})
}

func TestSnapshotPartialFailureKeepsCache(t *testing.T) {
	amp, inst, _ := initAmplifier(t)

	inst.EXPECT().Query(gomock.Any(), QuerySnapshot).Return("1e-3,oops,3e-3,45.0", nil)
	_, err := amp.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrParse)

	inst.EXPECT().Query(gomock.Any(), QuerySnapshot).Return("1e-3,2e-3", nil)
	_, err = amp.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrParse)

	x, y, r, phase := amp.Cached()
	assert.Equal(t, []float64{0, 0, 0, 0}, []float64{x, y, r, phase})
}

func TestRegistrationTables(t *testing.T) {
	amp, inst, _ := initAmplifier(t)

	names := make([]string, 0)
	for _, info := range amp.Attributes().Infos() {
		names = append(names, info.Name)
		assert.True(t, info.Readable())
	}
	assert.Equal(t, []string{"X", "Y", "R", "phase"}, names)

	attr, err := amp.Attributes().Lookup("PHASE")
	require.NoError(t, err)
	inst.EXPECT().Query(gomock.Any(), QueryPhase).Return("12.5", nil)
	v, err := attr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	off, err := amp.Commands().Lookup("turn_off")
	require.NoError(t, err)
	require.NoError(t, off.Execute(context.Background()))
	assert.Equal(t, device.StateOff, amp.State())

	on, err := amp.Commands().Lookup("turn_on")
	require.NoError(t, err)
	require.NoError(t, on.Execute(context.Background()))
	assert.Equal(t, device.StateOn, amp.State())

	assert.Equal(t, ClassName, amp.Class())
	assert.Equal(t, "lab/lockin/1", amp.Name())
}
