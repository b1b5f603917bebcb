package transport

import (
	"context"
	"fmt"
	"time"
)

// Session is an open query channel to one instrument.
type Session interface {
	Query(ctx context.Context, command string) (string, error)
	Close() error
}

type Options struct {
	DefaultPort int
	Timeout     time.Duration
	Terminator  byte
	Serial      SerialOptions
}

// Open parses the resource string and connects the matching session.
func Open(ctx context.Context, resource string, opts Options) (Session, error) {
	res, err := ParseResource(resource, opts.DefaultPort)
	if err != nil {
		return nil, err
	}

	if opts.Terminator == 0 {
		opts.Terminator = '\n'
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}

	switch res.Kind {
	case KindSocket:
		client := NewClient(res.Address(), opts.Timeout, opts.Terminator)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil

	case KindSerial:
		client, err := NewSerialClient(res.Device, opts.Serial, opts.Timeout, opts.Terminator)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrInvalidResource, res.Kind)
	}
}
