// Package simulator emulates the text protocol of a lock-in amplifier on a
// TCP socket, for bench runs and integration tests without hardware.
package simulator

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const DefaultIDN = "Stanford_Research_Systems,SR830,s/n00000,ver1.07"

// ErrorReply is sent for queries the simulator does not understand.
const ErrorReply = "ERROR"

// Fault changes how the simulator answers measurement queries.
type Fault int

const (
	FaultNone Fault = iota
	// FaultGarbage answers with a non-numeric reply.
	FaultGarbage
	// FaultSilent never answers, so clients time out.
	FaultSilent
)

type Config struct {
	// Address to listen on, e.g. "127.0.0.1:1865". Port 0 picks a free port.
	Address    string
	IDN        string
	Amplitude  float64 // volts
	Phase      float64 // degrees
	Noise      float64 // standard deviation in volts, 0 for exact values
	Seed       int64
	Terminator byte
}

type Server struct {
	cfg    Config
	logger *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu    sync.Mutex
	rng   *rand.Rand
	fault Fault
	conns map[net.Conn]struct{}

	closeOnce sync.Once
}

func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.IDN == "" {
		cfg.IDN = DefaultIDN
	}
	if cfg.Terminator == 0 {
		cfg.Terminator = '\n'
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and accepts connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = ln

	s.logger.Info("Lock-in simulator listening",
		zap.String("address", ln.Addr().String()),
		zap.Float64("amplitude", s.cfg.Amplitude),
		zap.Float64("phase", s.cfg.Phase))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address. Only valid after Start.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.logger.Debug("Client connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString(s.cfg.Terminator)
		if err != nil {
			return
		}

		reply, ok := s.Respond(line)
		if !ok {
			continue
		}
		if _, err := conn.Write([]byte(reply + string(s.cfg.Terminator))); err != nil {
			return
		}
	}
}

// Respond answers one command line. ok is false when the command produces
// no reply: set commands, blank lines and silent faults.
func (s *Server) Respond(line string) (reply string, ok bool) {
	cmd := strings.ToUpper(strings.TrimSpace(line))
	if cmd == "" {
		return "", false
	}

	if cmd == "*IDN?" {
		return s.cfg.IDN, true
	}

	if !strings.HasSuffix(strings.Fields(cmd)[0], "?") {
		s.logger.Debug("Ignoring set command", zap.String("command", cmd))
		return "", false
	}

	s.mu.Lock()
	fault := s.fault
	s.mu.Unlock()

	name, args, _ := strings.Cut(cmd, " ")
	switch name {
	case "OUTP?":
		ch, err := channel(args)
		if err != nil {
			return ErrorReply, true
		}
		switch fault {
		case FaultSilent:
			return "", false
		case FaultGarbage:
			return "OVLD", true
		}
		return format(s.sample()[ch]), true

	case "SNAP?":
		parts := strings.Split(args, ",")
		if len(parts) < 2 || len(parts) > 6 {
			return ErrorReply, true
		}
		chans := make([]int, len(parts))
		for i, p := range parts {
			ch, err := channel(p)
			if err != nil {
				return ErrorReply, true
			}
			chans[i] = ch
		}
		switch fault {
		case FaultSilent:
			return "", false
		case FaultGarbage:
			return "OVLD", true
		}
		values := s.sample()
		out := make([]string, len(chans))
		for i, ch := range chans {
			out[i] = format(values[ch])
		}
		return strings.Join(out, ","), true
	}

	return ErrorReply, true
}

// Output channels, numbered as in the instrument's OUTP?/SNAP? queries.
const (
	chX     = 1
	chY     = 2
	chR     = 3
	chTheta = 4
)

func channel(arg string) (int, error) {
	switch strings.TrimSpace(arg) {
	case "X", "1":
		return chX, nil
	case "Y", "2":
		return chY, nil
	case "R", "3":
		return chR, nil
	case "TH", "T", "4":
		return chTheta, nil
	}
	return 0, fmt.Errorf("unknown output %q", arg)
}

// sample draws one consistent set of outputs, indexed by channel.
func (s *Server) sample() [5]float64 {
	rad := s.cfg.Phase * math.Pi / 180
	x := s.cfg.Amplitude * math.Cos(rad)
	y := s.cfg.Amplitude * math.Sin(rad)

	if s.cfg.Noise > 0 {
		s.mu.Lock()
		x += s.rng.NormFloat64() * s.cfg.Noise
		y += s.rng.NormFloat64() * s.cfg.Noise
		s.mu.Unlock()
	}

	return [5]float64{
		chX:     x,
		chY:     y,
		chR:     math.Hypot(x, y),
		chTheta: math.Atan2(y, x) * 180 / math.Pi,
	}
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
