// Package devicetest provides an in-memory device for host-level tests.
package devicetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/KevinKickass/OpenLockIn/internal/device"
	"github.com/KevinKickass/OpenLockIn/internal/types"
)

var ErrRead = errors.New("fake read failure")

// Fake is a two-attribute device. "value" returns Value and "broken"
// always fails. Calls are counted and overlapping calls are recorded in
// Overlaps.
type Fake struct {
	DeviceName string
	Value      float64
	InitErr    error
	DeleteErr  error
	ReadErr    error
	// InitHook, when set, runs inside Init before the state changes.
	InitHook func()

	state    device.State
	inflight atomic.Int32

	Inits    atomic.Int32
	Deletes  atomic.Int32
	Reads    atomic.Int32
	Overlaps atomic.Int32
}

func New(name string) *Fake {
	return &Fake{DeviceName: name, Value: 1.5}
}

func (f *Fake) Name() string        { return f.DeviceName }
func (f *Fake) Class() string       { return "Fake" }
func (f *Fake) State() device.State { return f.state }
func (f *Fake) Status() string      { return fmt.Sprintf("The device is in %s state.", f.state) }

func (f *Fake) Init(ctx context.Context) error {
	f.Inits.Add(1)
	f.state = device.StateInit
	if f.InitHook != nil {
		f.InitHook()
	}
	if f.InitErr != nil {
		return f.InitErr
	}
	f.state = device.StateOn
	return nil
}

func (f *Fake) Delete(ctx context.Context) error {
	f.Deletes.Add(1)
	f.state = device.StateOff
	return f.DeleteErr
}

func (f *Fake) enter() func() {
	if f.inflight.Add(1) > 1 {
		f.Overlaps.Add(1)
	}
	return func() { f.inflight.Add(-1) }
}

func (f *Fake) readValue(ctx context.Context) (float64, error) {
	defer f.enter()()
	f.Reads.Add(1)
	if f.ReadErr != nil {
		return 0, f.ReadErr
	}
	return f.Value, nil
}

func (f *Fake) readBroken(ctx context.Context) (float64, error) {
	defer f.enter()()
	return 0, ErrRead
}

func (f *Fake) Snapshot(ctx context.Context) (map[string]float64, error) {
	defer f.enter()()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	return map[string]float64{"value": f.Value}, nil
}

func (f *Fake) Attributes() device.AttributeTable {
	return device.AttributeTable{
		{
			Info: types.AttributeInfo{
				Name:     "value",
				DataType: types.DataTypeFloat64,
				Access:   types.AccessTypeReadOnly,
				Display:  types.DisplayLevelOperator,
			},
			Read: f.readValue,
		},
		{
			Info: types.AttributeInfo{
				Name:     "broken",
				DataType: types.DataTypeFloat64,
				Access:   types.AccessTypeReadOnly,
				Display:  types.DisplayLevelExpert,
			},
			Read: f.readBroken,
		},
		{
			Info: types.AttributeInfo{
				Name:     "setpoint",
				DataType: types.DataTypeFloat64,
				Access:   types.AccessTypeReadWrite,
				Display:  types.DisplayLevelExpert,
			},
		},
	}
}

func (f *Fake) Commands() device.CommandTable {
	return device.CommandTable{
		{
			Info: types.CommandInfo{Name: "turn_on", InputType: types.DataTypeVoid, OutputType: types.DataTypeVoid},
			Execute: func(ctx context.Context) error {
				defer f.enter()()
				f.state = device.StateOn
				return nil
			},
		},
		{
			Info: types.CommandInfo{Name: "turn_off", InputType: types.DataTypeVoid, OutputType: types.DataTypeVoid},
			Execute: func(ctx context.Context) error {
				defer f.enter()()
				f.state = device.StateOff
				return nil
			},
		},
	}
}
