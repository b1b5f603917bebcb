package devices

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller reads a fixed set of attributes of one device on a ticker.
type Poller struct {
	manager    *Manager
	device     string
	attributes []string
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

func NewPoller(manager *Manager, deviceName string, attributes []string, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		manager:    manager,
		device:     deviceName,
		attributes: attributes,
		interval:   interval,
		logger:     logger,
	}
}

// Start begins cyclic polling
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Poller started",
		zap.String("device", p.device),
		zap.Strings("attributes", p.attributes),
		zap.Duration("interval", p.interval))

	return nil
}

// Stop halts polling and waits for the loop to exit
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()

	p.logger.Info("Poller stopped", zap.String("device", p.device))
}

func (p *Poller) pollLoop(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.pollDevice()
		}
	}
}

func (p *Poller) pollDevice() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	for _, attr := range p.attributes {
		if _, err := p.manager.ReadAttribute(ctx, p.device, attr); err != nil {
			p.logger.Error("Poll failed",
				zap.String("device", p.device),
				zap.String("attribute", attr),
				zap.Error(err))
		}
	}
}

// IsRunning reports whether the poller loop is active
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
