package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"hoverfc/internal/control"
	"hoverfc/internal/pid"
)

func vec3(v []float64) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}

func vals(v mgl32.Vec3) []float64 {
	return []float64{float64(v[0]), float64(v[1]), float64(v[2])}
}

// Control converts a defaulted section into control-law tunables.
// DefaultAndValidate must have run on p first.
func (p ParamsConfig) Control() control.Params {
	return control.Params{
		Rate: pid.Gains{
			P: vec3(p.Rate.P),
			I: vec3(p.Rate.I),
			D: vec3(p.Rate.D),
		},
		Attitude: pid.Gains{
			P: vec3(p.Attitude.P),
			I: vec3(p.Attitude.I),
			D: vec3(p.Attitude.D),
		},
		HeadVelocity: control.ScalarGains{
			P: float32(*p.HeadVelocity.P),
			I: float32(*p.HeadVelocity.I),
			D: float32(*p.HeadVelocity.D),
		},
		MaxAngularVelocity: vec3(p.MaxAngularVelocity),
		ThrustWeightRatio:  float32(*p.ThrustWeightRatio),
		FilterAttitude:     float32(*p.FilterAttitude),
		FilterRate:         float32(*p.FilterRate),
		AttitudeDBlend:     float32(p.AttitudeDBlend),
		UnrealFrame:        p.UnrealFrame,
		ResetOnModeSwitch:  p.ResetOnModeSwitch,
	}
}

// ParamsFromControl is the inverse of Control.
func ParamsFromControl(c control.Params) ParamsConfig {
	return ParamsConfig{
		Rate:     AxisGains{P: vals(c.Rate.P), I: vals(c.Rate.I), D: vals(c.Rate.D)},
		Attitude: AxisGains{P: vals(c.Attitude.P), I: vals(c.Attitude.I), D: vals(c.Attitude.D)},
		HeadVelocity: ScalarGains{
			P: ptr(float64(c.HeadVelocity.P)),
			I: ptr(float64(c.HeadVelocity.I)),
			D: ptr(float64(c.HeadVelocity.D)),
		},
		MaxAngularVelocity: vals(c.MaxAngularVelocity),
		ThrustWeightRatio:  ptr(float64(c.ThrustWeightRatio)),
		FilterAttitude:     ptr(float64(c.FilterAttitude)),
		FilterRate:         ptr(float64(c.FilterRate)),
		AttitudeDBlend:     float64(c.AttitudeDBlend),
		UnrealFrame:        c.UnrealFrame,
		ResetOnModeSwitch:  c.ResetOnModeSwitch,
	}
}

// ValidateParams defaults and validates a params section on its own.
func ValidateParams(p *ParamsConfig) error {
	return defaultAndValidateParams(p)
}

// ParamStore re-reads the params section of the config file. A failed read
// keeps the last good values; the error is reported once per distinct cause.
type ParamStore struct {
	path string

	mu      sync.Mutex
	current control.Params
	lastErr string
}

func NewParamStore(path string, initial control.Params) *ParamStore {
	return &ParamStore{path: path, current: initial}
}

func (s *ParamStore) Path() string { return s.path }

// Current returns the last good params.
func (s *ParamStore) Current() control.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reload reads the file and returns the resulting params. On error it returns
// the previous values, the error, and whether this error differs from the
// previous one.
func (s *ParamStore) Reload() (control.Params, bool, error) {
	p, err := readParams(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		fresh := err.Error() != s.lastErr
		s.lastErr = err.Error()
		return s.current, fresh, err
	}
	s.lastErr = ""
	s.current = p.Control()
	return s.current, false, nil
}

func readParams(path string) (ParamsConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ParamsConfig{}, err
	}
	var doc struct {
		Params ParamsConfig `yaml:"params"`
	}
	if err := yaml.NewDecoder(bytes.NewReader(b)).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return ParamsConfig{}, fmt.Errorf("params: %w", err)
	}
	if err := defaultAndValidateParams(&doc.Params); err != nil {
		return ParamsConfig{}, err
	}
	return doc.Params, nil
}

// Save replaces the params section in the config file, leaving the other
// sections as they are. The write goes through a temp file and rename.
func (s *ParamStore) Save(p ParamsConfig) error {
	if err := defaultAndValidateParams(&p); err != nil {
		return err
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return fmt.Errorf("params save: %w", err)
	}
	var section yaml.Node
	if err := section.Encode(p); err != nil {
		return fmt.Errorf("params save: %w", err)
	}
	if err := setMapping(&root, "params", &section); err != nil {
		return err
	}
	out, err := yaml.Marshal(&root)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".params-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = p.Control()
	s.lastErr = ""
	s.mu.Unlock()
	return nil
}

func setMapping(root *yaml.Node, key string, value *yaml.Node) error {
	doc := root
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if doc.Kind != yaml.DocumentNode {
		return fmt.Errorf("params save: unexpected yaml root")
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return fmt.Errorf("params save: config root is not a mapping")
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return nil
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
	return nil
}
