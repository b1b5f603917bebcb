package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/api/rest"
	"github.com/KevinKickass/OpenLockIn/internal/api/websocket"
	"github.com/KevinKickass/OpenLockIn/internal/auth"
	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/KevinKickass/OpenLockIn/internal/device"
	"github.com/KevinKickass/OpenLockIn/internal/devices"
	"github.com/KevinKickass/OpenLockIn/internal/interfaces"
	"github.com/KevinKickass/OpenLockIn/internal/lockin"
	"github.com/KevinKickass/OpenLockIn/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type LifecycleManager struct {
	config        *config.Config
	storage       *storage.PostgresClient // nil when archival is disabled
	authService   *auth.AuthService       // nil when auth is disabled
	deviceManager *devices.Manager
	wsHub         *websocket.Hub
	health        *health.Server
	open          lockin.OpenFunc
	logger        *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time
	lastError    string

	shutdownOnce sync.Once
}

func NewLifecycleManager(
	cfg *config.Config,
	store *storage.PostgresClient,
	authService *auth.AuthService,
	open lockin.OpenFunc,
	logger *zap.Logger,
) *LifecycleManager {
	lm := &LifecycleManager{
		config:        cfg,
		storage:       store,
		authService:   authService,
		deviceManager: devices.NewManager(logger),
		wsHub:         websocket.NewHub(logger, authService),
		health:        health.NewServer(),
		open:          open,
		logger:        logger,
		currentState:  StateStopped,
	}

	lm.deviceManager.SetEventPublisher(lm.wsHub)
	lm.deviceManager.SetStateObserver(lm)
	if store != nil {
		lm.deviceManager.SetRecorder(store)
	}
	lm.wsHub.SetStatusProvider(lm)

	// NOT_SERVING until Start completes
	lm.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return lm
}

// Start brings up the live hub, the gRPC health service, the lock-in
// device and the REST API. A device that cannot be initialized fails the
// start.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	if err := lm.transition(StateInitializing); err != nil {
		return err
	}

	lm.logger.Info("Starting OpenLockIn",
		zap.String("device", lm.config.Device.Name),
		zap.String("endpoint", lm.config.Device.Endpoint))

	go lm.wsHub.Run()

	if err := lm.startGRPCServer(); err != nil {
		return lm.fail(fmt.Errorf("failed to start gRPC: %w", err))
	}

	if err := lm.registerDevice(ctx); err != nil {
		return lm.fail(err)
	}

	if err := lm.startRESTServer(); err != nil {
		return lm.fail(fmt.Errorf("failed to start REST API: %w", err))
	}

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()

	if err := lm.transition(StateRunning); err != nil {
		return lm.fail(err)
	}
	lm.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("auth_enabled", lm.authService != nil),
		zap.Bool("archiving", lm.storage != nil))

	return nil
}

func (lm *LifecycleManager) registerDevice(ctx context.Context) error {
	dev := lm.config.Device

	amp := lockin.New(lockin.Config{
		Name:     dev.Name,
		Endpoint: dev.Endpoint,
	}, lm.open, lm.logger)

	if err := lm.deviceManager.Register(ctx, amp); err != nil {
		return err
	}

	if dev.PollInterval > 0 && len(dev.PolledAttributes) > 0 {
		if err := lm.deviceManager.StartPoller(dev.Name, dev.PollInterval, dev.PolledAttributes); err != nil {
			return fmt.Errorf("failed to start poller: %w", err)
		}
	}

	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)
	lm.grpcAddr = lis.Addr()

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// Shutdown gracefully shuts down the system. Later calls return nil.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		if err := lm.transition(StateStopping); err != nil {
			lm.logger.Warn("Unexpected state at shutdown", zap.Error(err))
		}
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		if err := lm.transition(StateStopped); err != nil {
			lm.logger.Warn("Unexpected state after shutdown", zap.Error(err))
		}
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	lm.health.Shutdown()

	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// Devices first: stops pollers and closes instrument sessions
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.deviceManager.StopAll(ctx); err != nil {
			errChan <- fmt.Errorf("device manager stop failed: %w", err)
		}
	}()

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		lm.wsHub.Stop()
		return fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err())
	}

	lm.wsHub.Stop()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) transition(to SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, to); err != nil {
		return err
	}
	lm.currentState = to
	if to != StateError {
		lm.lastError = ""
	}
	return nil
}

// fail records err and moves to ERROR. It returns err for convenience.
func (lm *LifecycleManager) fail(err error) error {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.broadcastStatus()
	return err
}

// DeviceStateChanged mirrors device states into the gRPC health service.
func (lm *LifecycleManager) DeviceStateChanged(deviceName string, state device.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == device.StateOn {
		status = healthpb.HealthCheckResponse_SERVING
	}
	lm.health.SetServingStatus(deviceName, status)
}

// State returns the current system state
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startedAt := lm.startedAt
	lm.stateMu.RUnlock()

	infos := lm.deviceManager.ListDevices()
	on := 0
	for _, info := range infos {
		if info.State == device.StateOn {
			on++
		}
	}

	status := interfaces.SystemStatus{
		State:       state.String(),
		DeviceCount: len(infos),
		DevicesOn:   on,
		LiveClients: lm.wsHub.GetClientCount(),
		Archiving:   lm.storage != nil,
	}
	if state == StateRunning && !startedAt.IsZero() {
		status.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return status
}

// GetStatus feeds the system_status message for new live clients.
func (lm *LifecycleManager) GetStatus() any {
	return lm.GetCurrentStatus()
}

// LastError returns the error that moved the system to ERROR, if any.
func (lm *LifecycleManager) LastError() string {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.lastError
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.PublishSystemStatus(lm.GetCurrentStatus())
}

// DeviceManager returns the device manager
func (lm *LifecycleManager) DeviceManager() *devices.Manager {
	return lm.deviceManager
}

// History returns the reading archive, nil when archival is disabled.
func (lm *LifecycleManager) History() interfaces.ReadingHistory {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// RESTAddr returns the bound REST address once started.
func (lm *LifecycleManager) RESTAddr() string {
	if lm.restServer == nil {
		return ""
	}
	return lm.restServer.Addr()
}

// GRPCAddr returns the bound gRPC address once started.
func (lm *LifecycleManager) GRPCAddr() string {
	if lm.grpcAddr == nil {
		return ""
	}
	return lm.grpcAddr.String()
}
