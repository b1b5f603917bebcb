package system

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/KevinKickass/OpenLockIn/internal/lockin"
	"github.com/KevinKickass/OpenLockIn/internal/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateStopped, StateInitializing))
	assert.NoError(t, ValidateTransition(StateInitializing, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.NoError(t, ValidateTransition(StateError, StateStopping))

	assert.Error(t, ValidateTransition(StateRunning, StateInitializing))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(SystemState(42), StateRunning))

	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "UNKNOWN", SystemState(42).String())
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Server.HTTPPort = 0
	cfg.Server.GRPCPort = 0
	cfg.Device.Endpoint = endpoint
	cfg.Device.Timeout = time.Second
	return cfg
}

func startSimulator(t *testing.T) *simulator.Server {
	t.Helper()
	sim := simulator.New(simulator.Config{Address: "127.0.0.1:0", Amplitude: 0.25}, zap.NewNop())
	require.NoError(t, sim.Start())
	t.Cleanup(func() { sim.Close() })
	return sim
}

func socketResource(addr string) string {
	host, port, _ := net.SplitHostPort(addr)
	return fmt.Sprintf("TCPIP::%s::%s::SOCKET", host, port)
}

func loopback(addr string) string {
	_, port, _ := net.SplitHostPort(addr)
	return net.JoinHostPort("127.0.0.1", port)
}

func getJSON(t *testing.T, rawURL string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body), string(data))
	return resp.StatusCode, body
}

func healthStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestLifecycle_ServesSimulatedAmplifier(t *testing.T) {
	sim := startSimulator(t)
	cfg := testConfig(t, socketResource(sim.Addr()))
	cfg.Device.PollInterval = 20 * time.Millisecond
	cfg.Device.PolledAttributes = []string{"R"}

	lm := NewLifecycleManager(cfg, nil, nil, InstrumentOpener(cfg), zap.NewNop())
	require.NoError(t, lm.Start(context.Background()))
	defer lm.Shutdown(context.Background())

	assert.Equal(t, StateRunning, lm.State())
	assert.Error(t, lm.Start(context.Background()), "second start")

	base := "http://" + loopback(lm.RESTAddr()) + "/api/v1"
	devicePath := base + "/devices/" + url.PathEscape(cfg.Device.Name)

	code, body := getJSON(t, base+"/system/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "RUNNING", body["state"])
	assert.EqualValues(t, 1, body["devices_on"])
	assert.Equal(t, false, body["archiving"])

	code, body = getJSON(t, devicePath+"/attributes/X")
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 0.25, body["value"], 1e-12)

	code, body = getJSON(t, devicePath+"/snapshot")
	require.Equal(t, http.StatusOK, code)
	values := body["values"].(map[string]any)
	assert.InDelta(t, 0.25, values["R"], 1e-12)
	assert.InDelta(t, 0.0, values["phase"], 1e-12)

	info, err := lm.DeviceManager().Describe(cfg.Device.Name)
	require.NoError(t, err)
	assert.True(t, info.Polling)

	conn, err := grpc.NewClient(loopback(lm.GRPCAddr()), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	health := healthpb.NewHealthClient(conn)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, health, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, health, cfg.Device.Name))

	resp, err := http.Post(devicePath+"/commands/turn_off", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, health, cfg.Device.Name))

	require.NoError(t, lm.Shutdown(context.Background()))
	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.State())
	assert.Empty(t, lm.DeviceManager().ListDevices())
}

func TestLifecycle_GarbageRepliesSurfaceAsBadGateway(t *testing.T) {
	sim := startSimulator(t)
	cfg := testConfig(t, socketResource(sim.Addr()))

	lm := NewLifecycleManager(cfg, nil, nil, InstrumentOpener(cfg), zap.NewNop())
	require.NoError(t, lm.Start(context.Background()))
	defer lm.Shutdown(context.Background())

	sim.SetFault(simulator.FaultGarbage)

	base := "http://" + loopback(lm.RESTAddr()) + "/api/v1"
	code, body := getJSON(t, base+"/devices/"+url.PathEscape(cfg.Device.Name)+"/attributes/phase")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "DEVICE_502", body["error"].(map[string]any)["code"])
}

func TestLifecycle_StartFailsWithoutInstrument(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig(t, socketResource(addr))

	lm := NewLifecycleManager(cfg, nil, nil, InstrumentOpener(cfg), zap.NewNop())
	err = lm.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lockin.ErrConnection))
	assert.Equal(t, StateError, lm.State())
	assert.NotEmpty(t, lm.LastError())
	assert.Empty(t, lm.DeviceManager().ListDevices())

	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.State())
}
