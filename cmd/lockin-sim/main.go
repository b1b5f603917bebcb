package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenLockIn/internal/simulator"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	addr := pflag.StringP("listen", "l", "127.0.0.1:1865", "address to listen on")
	idn := pflag.String("idn", simulator.DefaultIDN, "reply to *IDN?")
	amplitude := pflag.Float64("amplitude", 1e-3, "signal amplitude in volts")
	phase := pflag.Float64("phase", 0, "signal phase in degrees")
	noise := pflag.Float64("noise", 0, "gaussian noise (standard deviation, volts)")
	seed := pflag.Int64("seed", 1, "noise seed")
	cr := pflag.Bool("cr", false, "use CR instead of LF as line terminator")
	debug := pflag.Bool("debug", false, "log every command")
	pflag.Parse()

	var logger *zap.Logger
	var err error
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	terminator := byte('\n')
	if *cr {
		terminator = '\r'
	}

	sim := simulator.New(simulator.Config{
		Address:    *addr,
		IDN:        *idn,
		Amplitude:  *amplitude,
		Phase:      *phase,
		Noise:      *noise,
		Seed:       *seed,
		Terminator: terminator,
	}, logger)

	if err := sim.Start(); err != nil {
		logger.Fatal("Failed to start simulator", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received")
	if err := sim.Close(); err != nil {
		logger.Error("Simulator close failed", zap.Error(err))
	}
}
