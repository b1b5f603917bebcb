// Package device defines the contract between the device server host and
// the instrument adapters it serves.
package device

import (
	"context"
	"errors"
	"strings"

	"github.com/KevinKickass/OpenLockIn/internal/types"
)

var (
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrCommandNotFound   = errors.New("command not found")
)

// Device is implemented by every adapter hosted by the server. The host
// serializes all calls against one Device, so implementations need no
// locking of their own.
type Device interface {
	Name() string
	Class() string

	// Init connects to the hardware. A returned error keeps the device
	// from being served.
	Init(ctx context.Context) error
	// Delete releases the hardware connection.
	Delete(ctx context.Context) error

	State() State
	Status() string

	Attributes() AttributeTable
	Commands() CommandTable
}

// Snapshotter is implemented by devices that can sample all of their
// attributes in a single instrument exchange.
type Snapshotter interface {
	Snapshot(ctx context.Context) (map[string]float64, error)
}

type ReadFunc func(ctx context.Context) (float64, error)

type ExecFunc func(ctx context.Context) error

// Attribute is one registration entry: metadata plus the read handler.
type Attribute struct {
	Info types.AttributeInfo
	Read ReadFunc
}

// Command is one registration entry: metadata plus the handler.
type Command struct {
	Info    types.CommandInfo
	Execute ExecFunc
}

type AttributeTable []Attribute

// Lookup finds an attribute by name, ignoring case.
func (t AttributeTable) Lookup(name string) (Attribute, error) {
	for _, attr := range t {
		if strings.EqualFold(attr.Info.Name, name) {
			return attr, nil
		}
	}
	return Attribute{}, ErrAttributeNotFound
}

func (t AttributeTable) Infos() []types.AttributeInfo {
	infos := make([]types.AttributeInfo, 0, len(t))
	for _, attr := range t {
		infos = append(infos, attr.Info)
	}
	return infos
}

type CommandTable []Command

// Lookup finds a command by name, ignoring case.
func (t CommandTable) Lookup(name string) (Command, error) {
	for _, cmd := range t {
		if strings.EqualFold(cmd.Info.Name, name) {
			return cmd, nil
		}
	}
	return Command{}, ErrCommandNotFound
}

func (t CommandTable) Infos() []types.CommandInfo {
	infos := make([]types.CommandInfo, 0, len(t))
	for _, cmd := range t {
		infos = append(infos, cmd.Info)
	}
	return infos
}
