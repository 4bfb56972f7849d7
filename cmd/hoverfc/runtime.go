package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"hoverfc/internal/bus"
	"hoverfc/internal/config"
	"hoverfc/internal/flight"
	"hoverfc/internal/flightlog"
	"hoverfc/internal/indicator"
	"hoverfc/internal/mixer"
	"hoverfc/internal/sched"
	"hoverfc/internal/web"
)

// sampleEvery builds one status/SSE sample per this many fast ticks. Mode
// changes are sampled immediately.
const sampleEvery = 10

// flightRuntime owns every live service for one run.
type flightRuntime struct {
	cfg   config.Config
	runID string

	ctl      *flight.Controller
	params   *config.ParamStore
	dispatch *bus.Dispatcher
	busCli   *bus.Client
	emitter  *mixer.Emitter
	recorder *flightlog.Writer
	led      *indicator.LED

	status    *web.Status
	telemetry *web.TelemetryBroadcaster
	logs      *web.LogBuffer

	fast *sched.Periodic
	slow *sched.Periodic

	lastMode flight.Mode
	wg       sync.WaitGroup
}

func newFlightRuntime(cfg config.Config, configPath, runID string, logs *web.LogBuffer, sinks []mixer.Sink) (*flightRuntime, error) {
	if len(sinks) == 0 {
		return nil, errors.New("no mixer sinks")
	}
	initial := cfg.Params.Control()
	rt := &flightRuntime{
		cfg:       cfg,
		runID:     runID,
		ctl:       flight.New(flight.Config{Tick: cfg.Control.FastInterval, Params: initial}),
		params:    config.NewParamStore(configPath, initial),
		status:    web.NewStatus(runID),
		telemetry: web.NewTelemetryBroadcaster(1),
		logs:      logs,
		fast:      &sched.Periodic{Name: "fast", Interval: cfg.Control.FastInterval},
		slow:      &sched.Periodic{Name: "slow", Interval: cfg.Control.SlowInterval, Window: 100},
	}
	rt.dispatch = bus.NewDispatcher(rt.ctl)

	busCli, err := bus.NewClient(bus.ClientConfig{
		Name:           "bus",
		Addr:           cfg.Bus.Addr,
		ReconnectDelay: cfg.Bus.ReconnectDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("bus client: %w", err)
	}
	rt.busCli = busCli

	// A nil *Writer must not become a non-nil Recorder.
	var rec mixer.Recorder
	if cfg.Record.Enable {
		w, err := flightlog.Create(cfg.Record.Path, runID)
		if err != nil {
			return nil, fmt.Errorf("flight log: %w", err)
		}
		rt.recorder = w
		rec = w
		log.Printf("recording mixer packets to %s", cfg.Record.Path)
	}
	rt.emitter = mixer.NewEmitter(cfg.Mixer.Queue, rec, sinks...)

	if cfg.Indicator.Enable {
		led, err := indicator.Open(cfg.Indicator.Pin)
		if err != nil {
			// The LED is cosmetic; keep flying without it.
			log.Printf("indicator disabled: %v", err)
		} else {
			rt.led = led
		}
	}
	return rt, nil
}

// webDeps exposes the runtime over HTTP.
func (rt *flightRuntime) webDeps() web.Deps {
	return web.Deps{
		Status:      rt.status,
		Telemetry:   rt.telemetry,
		Logs:        rt.logs,
		Params:      rt.params,
		ApplyParams: rt.ctl.SetParams,
	}
}

func (rt *flightRuntime) onBusLine(raw []byte) error {
	err := rt.dispatch.Dispatch(raw)
	if errors.Is(err, flight.ErrInactive) {
		return nil
	}
	return err
}

func (rt *flightRuntime) fastTick(now time.Time) {
	out := rt.ctl.Step(rt.emitter)
	ticks, _, _ := rt.ctl.Counters()
	if (ticks-1)%sampleEvery == 0 || out.Mode != rt.lastMode {
		sample := web.NewTelemetrySample(now, ticks, out)
		rt.status.MarkTick(sample)
		rt.telemetry.Publish(sample)
	}
	if out.Mode != rt.lastMode {
		log.Printf("mode %s -> %s", rt.lastMode, out.Mode)
		rt.lastMode = out.Mode
	}
}

func (rt *flightRuntime) slowTick(time.Time) {
	p, fresh, err := rt.params.Reload()
	if err != nil {
		if fresh {
			log.Printf("params reload failed, keeping last good values: %v", err)
		}
	} else {
		rt.ctl.SetParams(p)
	}

	if rt.led != nil {
		if err := rt.led.Update(rt.ctl.Snapshot().Mode.Active()); err != nil {
			log.Printf("indicator: %v", err)
		}
	}
	if rt.recorder != nil {
		if err := rt.recorder.Flush(); err != nil {
			log.Printf("flight log flush: %v", err)
		}
	}
	rt.status.SetRuntime(rt.runtimeStatus(err))
}

func (rt *flightRuntime) runtimeStatus(paramsErr error) web.RuntimeStatus {
	ticks, rejected, ignored := rt.ctl.Counters()
	st := web.RuntimeStatus{
		Loops:      []sched.Stats{rt.fast.Stats(), rt.slow.Stats()},
		Controller: web.ControllerCounters{Ticks: ticks, Rejected: rejected, Ignored: ignored},
		Bus:        rt.busCli.Snapshot(),
		Dispatch:   rt.dispatch.Snapshot(),
		Mixer:      rt.emitter.Snapshot(),
		ParamsFile: rt.params.Path(),
	}
	if paramsErr != nil {
		st.ParamsError = paramsErr.Error()
	}
	if rt.recorder != nil {
		st.Record = fmt.Sprintf("%s (%d packets)", rt.cfg.Record.Path, rt.recorder.Count())
	}
	return st
}

// Run starts the bus reader, the mixer writer and both loops. It returns once
// ctx is done and the loops have stopped.
func (rt *flightRuntime) Run(ctx context.Context) error {
	rt.emitter.Start()
	if err := rt.busCli.Start(ctx, func(raw json.RawMessage) error { return rt.onBusLine(raw) }); err != nil {
		return err
	}
	log.Printf("bus addr=%s sinks=%s", rt.cfg.Bus.Addr, strings.Join(rt.emitter.Snapshot().Sinks, ","))

	errCh := make(chan error, 2)
	rt.wg.Add(2)
	go func() {
		defer rt.wg.Done()
		// Keep the fast loop on one thread so CPU pinning holds.
		goruntime.LockOSThread()
		defer goruntime.UnlockOSThread()
		errCh <- rt.fast.Run(ctx, rt.fastTick)
	}()
	go func() {
		defer rt.wg.Done()
		errCh <- rt.slow.Run(ctx, rt.slowTick)
	}()
	rt.wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return nil
}

// Close stops services in dependency order. The mixer receives a zero frame
// before its sinks close.
func (rt *flightRuntime) Close() {
	if rt.busCli != nil {
		rt.busCli.Close()
		rt.busCli = nil
	}
	if rt.emitter != nil {
		if err := rt.emitter.Shutdown(); err != nil {
			log.Printf("mixer shutdown: %v", err)
		}
		rt.emitter = nil
	}
	if rt.recorder != nil {
		if err := rt.recorder.Close(); err != nil {
			log.Printf("flight log close: %v", err)
		}
		rt.recorder = nil
	}
	if rt.led != nil {
		_ = rt.led.Close()
		rt.led = nil
	}
}
