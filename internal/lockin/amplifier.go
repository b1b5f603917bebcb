// Package lockin serves a lock-in amplifier as X, Y, R and phase
// attributes plus turn_on/turn_off commands.
//
// Every attribute read is one query over the instrument session. The last
// successfully parsed value of each attribute is cached; failed reads leave
// the cache untouched.
package lockin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenLockIn/internal/device"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mock_transport.go -package=lockin github.com/KevinKickass/OpenLockIn/internal/lockin Transport

const ClassName = "LockInAmp"

// Instrument queries.
const (
	QueryIdentify = "*IDN?"
	QueryX        = "OUTP? X"
	QueryY        = "OUTP? Y"
	QueryR        = "OUTP? R"
	QueryPhase    = "OUTP? TH"
	QuerySnapshot = "SNAP? 1,2,3,4"
)

var (
	ErrConnection   = errors.New("connection error")
	ErrNotConnected = errors.New("instrument not connected")
	ErrQuery        = errors.New("query failed")
	ErrParse        = errors.New("unparseable response")
)

// Transport is an open query session to the instrument.
type Transport interface {
	Query(ctx context.Context, command string) (string, error)
	Close() error
}

// OpenFunc connects to the instrument addressed by endpoint.
type OpenFunc func(ctx context.Context, endpoint string) (Transport, error)

type Config struct {
	Name     string
	Endpoint string
}

type Amplifier struct {
	name     string
	endpoint string
	open     OpenFunc
	logger   *zap.Logger

	inst     Transport
	state    device.State
	status   string
	identity string

	x     float64
	y     float64
	r     float64
	phase float64

	attributes device.AttributeTable
	commands   device.CommandTable
}

var (
	_ device.Device      = (*Amplifier)(nil)
	_ device.Snapshotter = (*Amplifier)(nil)
)

func New(cfg Config, open OpenFunc, logger *zap.Logger) *Amplifier {
	a := &Amplifier{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		open:     open,
		logger:   logger.With(zap.String("device", cfg.Name)),
		state:    device.StateUnknown,
	}
	a.attributes = a.registerAttributes()
	a.commands = a.registerCommands()
	return a
}

func (a *Amplifier) Name() string  { return a.name }
func (a *Amplifier) Class() string { return ClassName }

func (a *Amplifier) State() device.State { return a.state }

func (a *Amplifier) Status() string {
	if a.status != "" {
		return a.status
	}
	return fmt.Sprintf("The device is in %s state.", a.state)
}

// Identity returns the reply to the last identification query.
func (a *Amplifier) Identity() string { return a.identity }

func (a *Amplifier) Attributes() device.AttributeTable { return a.attributes }
func (a *Amplifier) Commands() device.CommandTable     { return a.commands }

// Init opens the instrument session and identifies the instrument. A
// session that cannot be opened, or an identification query that fails at
// the transport level, is fatal. An empty identification is only logged.
func (a *Amplifier) Init(ctx context.Context) error {
	a.state = device.StateInit
	a.status = ""
	a.logger.Info("Connecting...", zap.String("endpoint", a.endpoint))

	inst, err := a.open(ctx, a.endpoint)
	if err != nil {
		a.status = "Connection failed: " + err.Error()
		return fmt.Errorf("%w: open %s: %w", ErrConnection, a.endpoint, err)
	}

	idn, err := inst.Query(ctx, QueryIdentify)
	if err != nil {
		if cerr := inst.Close(); cerr != nil {
			a.logger.Warn("Closing session after failed identification", zap.Error(cerr))
		}
		a.status = "Identification failed: " + err.Error()
		return fmt.Errorf("%w: identify %s: %w", ErrConnection, a.endpoint, err)
	}

	a.identity = strings.TrimSpace(idn)
	if a.identity != "" {
		a.logger.Info("Instrument ID", zap.String("idn", a.identity))
		a.logger.Info("Connection established!")
	} else {
		a.logger.Warn("Instrument could not be initialized.")
	}

	a.inst = inst
	a.state = device.StateOn
	a.x, a.y, a.r, a.phase = 0, 0, 0, 0

	return nil
}

// Delete switches the device off and releases the session.
func (a *Amplifier) Delete(ctx context.Context) error {
	a.state = device.StateOff
	a.status = ""

	var err error
	if a.inst != nil {
		err = a.inst.Close()
		a.inst = nil
	}

	a.logger.Warn("A device was deleted!")
	return err
}

func (a *Amplifier) TurnOn(ctx context.Context) error {
	a.state = device.StateOn
	return nil
}

func (a *Amplifier) TurnOff(ctx context.Context) error {
	a.state = device.StateOff
	return nil
}

func (a *Amplifier) ReadX(ctx context.Context) (float64, error) {
	return a.read(ctx, "X", QueryX, &a.x)
}

func (a *Amplifier) ReadY(ctx context.Context) (float64, error) {
	return a.read(ctx, "Y", QueryY, &a.y)
}

func (a *Amplifier) ReadR(ctx context.Context) (float64, error) {
	return a.read(ctx, "R", QueryR, &a.r)
}

func (a *Amplifier) ReadPhase(ctx context.Context) (float64, error) {
	return a.read(ctx, "phase", QueryPhase, &a.phase)
}

// Cached returns the last successfully read values.
func (a *Amplifier) Cached() (x, y, r, phase float64) {
	return a.x, a.y, a.r, a.phase
}

func (a *Amplifier) read(ctx context.Context, attr, query string, slot *float64) (float64, error) {
	if a.inst == nil {
		return 0, fmt.Errorf("read %s: %w", attr, ErrNotConnected)
	}

	reply, err := a.inst.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w: %w", attr, ErrQuery, err)
	}

	value, err := parseValue(reply)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", attr, err)
	}

	*slot = value
	return value, nil
}

// Snapshot samples X, Y, R and phase in one exchange. The cache is only
// updated when all four values parse.
func (a *Amplifier) Snapshot(ctx context.Context) (map[string]float64, error) {
	if a.inst == nil {
		return nil, fmt.Errorf("snapshot: %w", ErrNotConnected)
	}

	reply, err := a.inst.Query(ctx, QuerySnapshot)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w: %w", ErrQuery, err)
	}

	fields := strings.Split(reply, ",")
	if len(fields) != 4 {
		return nil, fmt.Errorf("snapshot: %w: expected 4 values, got %q", ErrParse, reply)
	}

	values := make([]float64, len(fields))
	for i, field := range fields {
		v, err := parseValue(field)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		values[i] = v
	}

	a.x, a.y, a.r, a.phase = values[0], values[1], values[2], values[3]

	return map[string]float64{
		"X":     a.x,
		"Y":     a.y,
		"R":     a.r,
		"phase": a.phase,
	}, nil
}

func parseValue(reply string) (float64, error) {
	s := strings.TrimSpace(reply)
	if s == "" {
		return 0, fmt.Errorf("%w: empty response", ErrParse)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrParse, s)
	}
	return v, nil
}
