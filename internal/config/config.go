package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Control   ControlConfig   `yaml:"control"`
	Params    ParamsConfig    `yaml:"params"`
	Bus       BusConfig       `yaml:"bus"`
	Mixer     MixerConfig     `yaml:"mixer"`
	Web       WebConfig       `yaml:"web"`
	Record    RecordConfig    `yaml:"record"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
}

type ControlConfig struct {
	// FastInterval is the control tick; it is also the integration step.
	FastInterval time.Duration `yaml:"fast_interval"`
	// SlowInterval is the parameter reload period.
	SlowInterval time.Duration `yaml:"slow_interval"`
}

// AxisGains are per-axis P/I/D triples (x, y, z).
type AxisGains struct {
	P []float64 `yaml:"p,omitempty" json:"p,omitempty"`
	I []float64 `yaml:"i,omitempty" json:"i,omitempty"`
	D []float64 `yaml:"d,omitempty" json:"d,omitempty"`
}

type ScalarGains struct {
	P *float64 `yaml:"p,omitempty" json:"p,omitempty"`
	I *float64 `yaml:"i,omitempty" json:"i,omitempty"`
	D *float64 `yaml:"d,omitempty" json:"d,omitempty"`
}

// ParamsConfig is the reloadable tuning section.
type ParamsConfig struct {
	Rate               AxisGains   `yaml:"rate" json:"rate"`
	Attitude           AxisGains   `yaml:"attitude" json:"attitude"`
	HeadVelocity       ScalarGains `yaml:"head_velocity" json:"head_velocity"`
	MaxAngularVelocity []float64   `yaml:"max_angular_velocity,omitempty" json:"max_angular_velocity,omitempty"`
	ThrustWeightRatio  *float64    `yaml:"thrust_weight_ratio,omitempty" json:"thrust_weight_ratio,omitempty"`
	FilterAttitude     *float64    `yaml:"filter_attitude,omitempty" json:"filter_attitude,omitempty"`
	FilterRate         *float64    `yaml:"filter_rate,omitempty" json:"filter_rate,omitempty"`
	AttitudeDBlend     float64     `yaml:"attitude_d_blend" json:"attitude_d_blend"`
	UnrealFrame        bool        `yaml:"unreal_frame" json:"unreal_frame"`
	ResetOnModeSwitch  bool        `yaml:"reset_on_mode_switch" json:"reset_on_mode_switch"`
}

type BusConfig struct {
	// Addr is the TCP endpoint streaming NDJSON sensor/setpoint messages.
	Addr           string        `yaml:"addr"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type MixerConfig struct {
	UDPDest      string `yaml:"udp_dest"`
	SerialDevice string `yaml:"serial_device"`
	SerialBaud   int    `yaml:"serial_baud"`
	// Queue is the number of pending packets held for the writer.
	Queue int `yaml:"queue"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type IndicatorConfig struct {
	Enable bool `yaml:"enable"`
	// Pin is BCM GPIO numbering.
	Pin int `yaml:"pin"`
}

type RealtimeConfig struct {
	LockMemory bool  `yaml:"lock_memory"`
	CPUs       []int `yaml:"cpus,omitempty"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.TrimPrefix(err.Error(), "yaml: unmarshal errors:\n  "))
		}
		return Config{}, err
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place and validates the result.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Control.FastInterval < 0 {
		return fmt.Errorf("control.fast_interval must be > 0")
	}
	if cfg.Control.FastInterval == 0 {
		cfg.Control.FastInterval = 5 * time.Millisecond
	}
	if cfg.Control.SlowInterval < 0 {
		return fmt.Errorf("control.slow_interval must be > 0")
	}
	if cfg.Control.SlowInterval == 0 {
		cfg.Control.SlowInterval = 100 * time.Millisecond
	}
	if cfg.Control.SlowInterval < cfg.Control.FastInterval {
		return fmt.Errorf("control.slow_interval must not be shorter than control.fast_interval")
	}

	if err := defaultAndValidateParams(&cfg.Params); err != nil {
		return err
	}

	cfg.Bus.Addr = strings.TrimSpace(cfg.Bus.Addr)
	if cfg.Bus.Addr == "" {
		return fmt.Errorf("bus.addr is required")
	}
	if cfg.Bus.ReconnectDelay <= 0 {
		cfg.Bus.ReconnectDelay = 1 * time.Second
	}

	cfg.Mixer.UDPDest = strings.TrimSpace(cfg.Mixer.UDPDest)
	cfg.Mixer.SerialDevice = strings.TrimSpace(cfg.Mixer.SerialDevice)
	if cfg.Mixer.UDPDest == "" && cfg.Mixer.SerialDevice == "" {
		return fmt.Errorf("mixer.udp_dest or mixer.serial_device is required")
	}
	if cfg.Mixer.SerialBaud < 0 {
		return fmt.Errorf("mixer.serial_baud must be > 0")
	}
	if cfg.Mixer.SerialBaud == 0 {
		cfg.Mixer.SerialBaud = 115200
	}
	if cfg.Mixer.Queue <= 0 {
		cfg.Mixer.Queue = 8
	}

	if cfg.Record.Enable && strings.TrimSpace(cfg.Record.Path) == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}

	if cfg.Indicator.Enable && cfg.Indicator.Pin <= 0 {
		return fmt.Errorf("indicator.pin must be > 0 when indicator.enable is true")
	}

	for _, cpu := range cfg.Realtime.CPUs {
		if cpu < 0 {
			return fmt.Errorf("realtime.cpus entries must be >= 0")
		}
	}

	return nil
}

func ptr(v float64) *float64 { return &v }

func defaultAxes(v *[]float64, def float64) {
	if len(*v) == 0 {
		*v = []float64{def, def, def}
	}
}

func checkAxes(name string, v []float64) error {
	if len(v) != 3 {
		return fmt.Errorf("%s must have 3 entries (x, y, z)", name)
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s must be finite", name)
		}
	}
	return nil
}

func checkFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be finite", name)
	}
	return nil
}

func defaultAndValidateParams(p *ParamsConfig) error {
	defaultAxes(&p.Rate.P, 1)
	defaultAxes(&p.Rate.I, 0)
	defaultAxes(&p.Rate.D, 0)
	defaultAxes(&p.Attitude.P, 2)
	defaultAxes(&p.Attitude.I, 0)
	defaultAxes(&p.Attitude.D, 0)
	defaultAxes(&p.MaxAngularVelocity, 10)

	if p.HeadVelocity.P == nil {
		p.HeadVelocity.P = ptr(1)
	}
	if p.HeadVelocity.I == nil {
		p.HeadVelocity.I = ptr(0.1)
	}
	if p.HeadVelocity.D == nil {
		p.HeadVelocity.D = ptr(0.05)
	}
	if p.ThrustWeightRatio == nil {
		p.ThrustWeightRatio = ptr(2)
	}
	if p.FilterAttitude == nil {
		p.FilterAttitude = ptr(0.1)
	}
	if p.FilterRate == nil {
		p.FilterRate = ptr(0.1)
	}

	axes := []struct {
		name string
		v    []float64
	}{
		{"params.rate.p", p.Rate.P},
		{"params.rate.i", p.Rate.I},
		{"params.rate.d", p.Rate.D},
		{"params.attitude.p", p.Attitude.P},
		{"params.attitude.i", p.Attitude.I},
		{"params.attitude.d", p.Attitude.D},
		{"params.max_angular_velocity", p.MaxAngularVelocity},
	}
	for _, a := range axes {
		if err := checkAxes(a.name, a.v); err != nil {
			return err
		}
	}
	for _, v := range p.MaxAngularVelocity {
		if v <= 0 {
			return fmt.Errorf("params.max_angular_velocity entries must be > 0")
		}
	}

	scalars := []struct {
		name string
		v    float64
	}{
		{"params.head_velocity.p", *p.HeadVelocity.P},
		{"params.head_velocity.i", *p.HeadVelocity.I},
		{"params.head_velocity.d", *p.HeadVelocity.D},
		{"params.thrust_weight_ratio", *p.ThrustWeightRatio},
		{"params.filter_attitude", *p.FilterAttitude},
		{"params.filter_rate", *p.FilterRate},
		{"params.attitude_d_blend", p.AttitudeDBlend},
	}
	for _, s := range scalars {
		if err := checkFinite(s.name, s.v); err != nil {
			return err
		}
	}

	if *p.ThrustWeightRatio <= 0 {
		return fmt.Errorf("params.thrust_weight_ratio must be > 0")
	}
	if *p.FilterAttitude <= 0 || *p.FilterAttitude > 1 {
		return fmt.Errorf("params.filter_attitude must be in (0, 1]")
	}
	if *p.FilterRate <= 0 || *p.FilterRate > 1 {
		return fmt.Errorf("params.filter_rate must be in (0, 1]")
	}
	if p.AttitudeDBlend < 0 || p.AttitudeDBlend > 1 {
		return fmt.Errorf("params.attitude_d_blend must be in [0, 1]")
	}
	return nil
}
