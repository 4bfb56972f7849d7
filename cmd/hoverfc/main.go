package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"hoverfc/internal/config"
	"hoverfc/internal/mixer"
	"hoverfc/internal/realtime"
	"hoverfc/internal/web"
)

func main() {
	var (
		configPath  string
		summaryPath string
		replayPath  string
		replaySpeed float64
	)
	flag.StringVar(&configPath, "config", "./hoverfc.yaml", "Path to YAML config")
	flag.StringVar(&summaryPath, "log-summary", "", "Print a summary of a flight log and exit")
	flag.StringVar(&replayPath, "replay", "", "Send a recorded flight log to the mixer sinks and exit")
	flag.Float64Var(&replaySpeed, "replay-speed", 1.0, "Replay speed multiplier")
	flag.Parse()

	if summaryPath != "" {
		if err := printLogSummary(os.Stdout, summaryPath); err != nil {
			log.Fatalf("log summary failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sinks, err := openSinks(cfg.Mixer)
	if err != nil {
		log.Fatalf("mixer init failed: %v", err)
	}

	if replayPath != "" {
		err := replayLog(ctx, replayPath, replaySpeed, sinks)
		closeSinks(sinks)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	if err := realtime.Apply(realtime.Options{LockMemory: cfg.Realtime.LockMemory, CPUs: cfg.Realtime.CPUs}); err != nil {
		closeSinks(sinks)
		log.Fatalf("realtime setup failed: %v", err)
	}

	runID := uuid.NewString()
	rt, err := newFlightRuntime(cfg, configPath, runID, logs, sinks)
	if err != nil {
		closeSinks(sinks)
		log.Fatalf("runtime init failed: %v", err)
	}

	log.Printf("hoverfc starting run=%s", runID)
	log.Printf("fast=%s slow=%s", cfg.Control.FastInterval, cfg.Control.SlowInterval)

	if cfg.Web.Listen != "" {
		go func() {
			log.Printf("web listening on %s", cfg.Web.Listen)
			if err := web.Serve(ctx, cfg.Web.Listen, web.Handler(rt.webDeps())); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
			}
		}()
	}

	if err := rt.Run(ctx); err != nil {
		log.Printf("control loop stopped: %v", err)
	}
	log.Printf("hoverfc stopping")
	rt.Close()
}

// openSinks opens every configured mixer sink. On error the ones already
// opened are closed.
func openSinks(cfg config.MixerConfig) ([]mixer.Sink, error) {
	var sinks []mixer.Sink
	if cfg.UDPDest != "" {
		s, err := mixer.NewUDPSink(cfg.UDPDest)
		if err != nil {
			return nil, fmt.Errorf("udp sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.SerialDevice != "" {
		s, err := mixer.NewSerialSink(cfg.SerialDevice, cfg.SerialBaud)
		if err != nil {
			closeSinks(sinks)
			return nil, fmt.Errorf("serial sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, errors.New("no mixer sink configured")
	}
	return sinks, nil
}

func closeSinks(sinks []mixer.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Printf("close %s: %v", s.Name(), err)
		}
	}
}
