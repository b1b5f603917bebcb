package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/device"
	"github.com/KevinKickass/OpenLockIn/internal/types"
	"go.uber.org/zap"
)

var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceExists        = errors.New("device already registered")
	ErrNotReadable         = errors.New("attribute is not readable")
	ErrSnapshotUnsupported = errors.New("device does not support snapshots")
)

// EventPublisher receives device events for live clients.
type EventPublisher interface {
	PublishState(deviceName string, state, previous device.State)
	PublishValue(value types.AttributeValue)
	PublishError(deviceName, attribute string, err error)
}

// StateObserver is told about every device state change.
type StateObserver interface {
	DeviceStateChanged(deviceName string, state device.State)
}

// ReadingRecorder archives successful attribute reads.
type ReadingRecorder interface {
	SaveReading(ctx context.Context, value types.AttributeValue) error
}

// Info is a consistent view of a hosted device.
type Info struct {
	Name       string                `json:"name" yaml:"name"`
	Class      string                `json:"class" yaml:"class"`
	State      device.State          `json:"state" yaml:"state"`
	Status     string                `json:"status" yaml:"status"`
	Polling    bool                  `json:"polling" yaml:"polling"`
	Attributes []types.AttributeInfo `json:"attributes" yaml:"attributes"`
	Commands   []types.CommandInfo   `json:"commands" yaml:"commands"`
}

// hosted guards one registered device. All calls into the device hold mu,
// so a device never sees two concurrent operations. Register runs Init
// before the device becomes reachable.
type hosted struct {
	dev device.Device
	mu  sync.Mutex
}

type Manager struct {
	devices map[string]*hosted
	// pending holds names whose Init is still running. They are not
	// visible to lookups until Init succeeds.
	pending map[string]struct{}
	pollers map[string]*Poller
	mu      sync.RWMutex
	logger  *zap.Logger

	publisher EventPublisher
	observer  StateObserver
	recorder  ReadingRecorder
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		devices: make(map[string]*hosted),
		pending: make(map[string]struct{}),
		pollers: make(map[string]*Poller),
		logger:  logger,
	}
}

// SetEventPublisher, SetStateObserver and SetRecorder must be called before
// the first Register.
func (m *Manager) SetEventPublisher(p EventPublisher) { m.publisher = p }
func (m *Manager) SetStateObserver(o StateObserver)   { m.observer = o }
func (m *Manager) SetRecorder(r ReadingRecorder)      { m.recorder = r }

func key(name string) string {
	return strings.ToLower(name)
}

// Register initializes dev and starts serving it. A device whose Init
// fails is not registered.
func (m *Manager) Register(ctx context.Context, dev device.Device) error {
	k := key(dev.Name())

	m.mu.Lock()
	_, exists := m.devices[k]
	_, initializing := m.pending[k]
	if exists || initializing {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceExists, dev.Name())
	}
	m.pending[k] = struct{}{}
	m.mu.Unlock()

	err := dev.Init(ctx)
	state := dev.State()

	m.mu.Lock()
	delete(m.pending, k)
	if err == nil {
		m.devices[k] = &hosted{dev: dev}
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to init device %s: %w", dev.Name(), err)
	}

	m.logger.Info("Device loaded",
		zap.String("name", dev.Name()),
		zap.String("class", dev.Class()),
		zap.String("state", state.String()))

	m.notifyState(dev.Name(), state, device.StateUnknown)
	return nil
}

// Reinit deletes and re-initializes a device, reopening its hardware
// connection.
func (m *Manager) Reinit(ctx context.Context, name string) error {
	h, err := m.lookup(name)
	if err != nil {
		return err
	}

	h.mu.Lock()
	previous := h.dev.State()
	if err := h.dev.Delete(ctx); err != nil {
		m.logger.Warn("Delete before re-init failed",
			zap.String("device", h.dev.Name()),
			zap.Error(err))
	}
	initErr := h.dev.Init(ctx)
	state := h.dev.State()
	h.mu.Unlock()

	m.notifyState(h.dev.Name(), state, previous)

	if initErr != nil {
		return fmt.Errorf("failed to re-init device %s: %w", h.dev.Name(), initErr)
	}
	return nil
}

func (m *Manager) lookup(name string) (*hosted, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, exists := m.devices[key(name)]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return h, nil
}

// ReadAttribute performs one read of the named attribute.
func (m *Manager) ReadAttribute(ctx context.Context, name, attribute string) (types.AttributeValue, error) {
	h, err := m.lookup(name)
	if err != nil {
		return types.AttributeValue{}, err
	}

	attr, err := h.dev.Attributes().Lookup(attribute)
	if err != nil {
		return types.AttributeValue{}, fmt.Errorf("%w: %s/%s", err, h.dev.Name(), attribute)
	}
	if !attr.Info.Readable() || attr.Read == nil {
		return types.AttributeValue{}, fmt.Errorf("%w: %s/%s", ErrNotReadable, h.dev.Name(), attr.Info.Name)
	}

	h.mu.Lock()
	value, err := attr.Read(ctx)
	h.mu.Unlock()

	if err != nil {
		if m.publisher != nil {
			m.publisher.PublishError(h.dev.Name(), attr.Info.Name, err)
		}
		return types.AttributeValue{}, fmt.Errorf("device %s: %w", h.dev.Name(), err)
	}

	reading := types.AttributeValue{
		Device:    h.dev.Name(),
		Attribute: attr.Info.Name,
		Value:     value,
		Timestamp: time.Now().UnixMilli(),
	}

	if m.publisher != nil {
		m.publisher.PublishValue(reading)
	}
	if m.recorder != nil {
		if err := m.recorder.SaveReading(ctx, reading); err != nil {
			m.logger.Warn("Failed to archive reading",
				zap.String("device", reading.Device),
				zap.String("attribute", reading.Attribute),
				zap.Error(err))
		}
	}

	return reading, nil
}

// ExecuteCommand runs the named command.
func (m *Manager) ExecuteCommand(ctx context.Context, name, command string) error {
	h, err := m.lookup(name)
	if err != nil {
		return err
	}

	cmd, err := h.dev.Commands().Lookup(command)
	if err != nil {
		return fmt.Errorf("%w: %s/%s", err, h.dev.Name(), command)
	}

	h.mu.Lock()
	previous := h.dev.State()
	err = cmd.Execute(ctx)
	state := h.dev.State()
	h.mu.Unlock()

	m.logger.Info("Device command executed",
		zap.String("device", h.dev.Name()),
		zap.String("command", cmd.Info.Name),
		zap.String("state", state.String()),
		zap.Error(err))

	if state != previous {
		m.notifyState(h.dev.Name(), state, previous)
	}

	if err != nil {
		return fmt.Errorf("command %s on %s failed: %w", cmd.Info.Name, h.dev.Name(), err)
	}
	return nil
}

// Snapshot samples all attributes of a device in one exchange.
func (m *Manager) Snapshot(ctx context.Context, name string) (map[string]float64, error) {
	h, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	snap, ok := h.dev.(device.Snapshotter)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotUnsupported, h.dev.Name())
	}

	h.mu.Lock()
	values, err := snap.Snapshot(ctx)
	h.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("device %s: %w", h.dev.Name(), err)
	}
	return values, nil
}

// Describe returns the current info of one device.
func (m *Manager) Describe(name string) (Info, error) {
	h, err := m.lookup(name)
	if err != nil {
		return Info{}, err
	}
	return m.describe(h), nil
}

func (m *Manager) describe(h *hosted) Info {
	h.mu.Lock()
	state := h.dev.State()
	status := h.dev.Status()
	h.mu.Unlock()

	m.mu.RLock()
	poller, polling := m.pollers[key(h.dev.Name())]
	m.mu.RUnlock()

	return Info{
		Name:       h.dev.Name(),
		Class:      h.dev.Class(),
		State:      state,
		Status:     status,
		Polling:    polling && poller.IsRunning(),
		Attributes: h.dev.Attributes().Infos(),
		Commands:   h.dev.Commands().Infos(),
	}
}

// ListDevices returns all devices
func (m *Manager) ListDevices() []Info {
	m.mu.RLock()
	all := make([]*hosted, 0, len(m.devices))
	for _, h := range m.devices {
		all = append(all, h)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(all))
	for _, h := range all {
		infos = append(infos, m.describe(h))
	}
	return infos
}

// StartPoller starts polling attributes of a device. An existing poller for
// the device is replaced.
func (m *Manager) StartPoller(name string, interval time.Duration, attributes []string) error {
	h, err := m.lookup(name)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("invalid poll interval %s", interval)
	}
	for _, attr := range attributes {
		if _, err := h.dev.Attributes().Lookup(attr); err != nil {
			return fmt.Errorf("%w: %s/%s", err, h.dev.Name(), attr)
		}
	}

	poller := NewPoller(m, h.dev.Name(), attributes, interval, m.logger)

	m.mu.Lock()
	old := m.pollers[key(name)]
	m.pollers[key(name)] = poller
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	return poller.Start()
}

// StopPoller stops polling a device.
func (m *Manager) StopPoller(name string) {
	m.mu.Lock()
	poller := m.pollers[key(name)]
	delete(m.pollers, key(name))
	m.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
}

// Remove stops serving a device and deletes it.
func (m *Manager) Remove(ctx context.Context, name string) error {
	h, err := m.lookup(name)
	if err != nil {
		return err
	}

	m.StopPoller(name)

	m.mu.Lock()
	delete(m.devices, key(name))
	m.mu.Unlock()

	return m.deleteDevice(ctx, h)
}

func (m *Manager) deleteDevice(ctx context.Context, h *hosted) error {
	h.mu.Lock()
	previous := h.dev.State()
	err := h.dev.Delete(ctx)
	state := h.dev.State()
	h.mu.Unlock()

	if state != previous {
		m.notifyState(h.dev.Name(), state, previous)
	}

	if err != nil {
		return fmt.Errorf("failed to delete device %s: %w", h.dev.Name(), err)
	}
	return nil
}

// StopAll stops all pollers and deletes all devices
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	pollers := m.pollers
	hostedDevices := m.devices
	m.pollers = make(map[string]*Poller)
	m.devices = make(map[string]*hosted)
	m.mu.Unlock()

	for _, poller := range pollers {
		poller.Stop()
	}

	var errs []error
	for _, h := range hostedDevices {
		if err := m.deleteDevice(ctx, h); err != nil {
			m.logger.Error("Failed to delete device",
				zap.String("device", h.dev.Name()),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) notifyState(name string, state, previous device.State) {
	if m.publisher != nil {
		m.publisher.PublishState(name, state, previous)
	}
	if m.observer != nil {
		m.observer.DeviceStateChanged(name, state)
	}
}
