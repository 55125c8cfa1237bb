package bench

import (
	"path/filepath"
	"runtime"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/perturb"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
)

// Policy names recorded with each run.
const (
	PolicyStatic = "static"
	PolicyRamp   = "ramp"
)

// #region suite-document

// PolicySpec selects the perturbation policy applied to every episode of a suite.
type PolicySpec struct {
	Type                string  `json:"type"`
	RampTicks           int     `json:"ramp_ticks,omitempty"`
	MaxFrameDropProb    float64 `json:"max_frame_drop_prob,omitempty"`
	MaxPositionNoiseStd float64 `json:"max_position_noise_std,omitempty"`
}

// Build returns the configured perturb.Policy.
func (p PolicySpec) Build() perturb.Policy {
	if p.Type == PolicyRamp {
		return perturb.RampPolicy{
			RampTicks:           p.RampTicks,
			MaxFrameDropProb:    p.MaxFrameDropProb,
			MaxPositionNoiseStd: p.MaxPositionNoiseStd,
		}
	}
	return perturb.StaticPolicy{}
}

// Name is the policy label stored with runs and outcomes.
func (p PolicySpec) Name() string {
	if p.Type == "" {
		return PolicyStatic
	}
	return p.Type
}

type scenarioRef struct {
	Path  string  `json:"path"`
	Seeds []int64 `json:"seeds,omitempty"`
}

type suiteDoc struct {
	Name      string        `json:"name"`
	Workers   int           `json:"workers,omitempty"`
	Params    string        `json:"params,omitempty"`
	Policy    PolicySpec    `json:"policy"`
	Scenarios []scenarioRef `json:"scenarios"`
}

// #endregion suite-document

// #region suite

// Episode is one scenario at one seed.
type Episode struct {
	Scenario scenario.Spec
	Path     string
}

// Seed returns the episode's seed.
func (e Episode) Seed() int64 {
	return e.Scenario.Seed
}

// Suite is a loaded benchmark: the parameter set, the policy and every episode to run.
type Suite struct {
	Name     string
	Workers  int
	Policy   PolicySpec
	Params   config.StackParams
	Episodes []Episode
}

// LoadSuite reads a suite document. Scenario and params paths are resolved relative
// to the suite file. A scenario without seeds runs once at its own seed.
func LoadSuite(path string) (*Suite, error) {
	doc, err := config.ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return ParseSuite(path, filepath.Dir(path), doc)
}

// ParseSuite decodes a JSON suite document, resolving relative paths against baseDir.
func ParseSuite(source, baseDir string, doc []byte) (*Suite, error) {
	d := suiteDoc{Policy: PolicySpec{Type: PolicyStatic}}
	if err := config.DecodeDocument(source, config.SchemaSuite, doc, &d); err != nil {
		return nil, err
	}
	if d.Policy.Type == PolicyRamp && d.Policy.RampTicks < 1 {
		return nil, config.Invalid(source, "policy/ramp_ticks", "ramp policy needs ramp_ticks >= 1")
	}

	s := &Suite{
		Name:    d.Name,
		Workers: d.Workers,
		Policy:  d.Policy,
		Params:  config.DefaultStackParams(),
	}
	if s.Workers < 1 {
		s.Workers = runtime.GOMAXPROCS(0)
	}
	if d.Params != "" {
		params, err := config.LoadStackParams(resolve(baseDir, d.Params))
		if err != nil {
			return nil, err
		}
		s.Params = params
	}

	for _, ref := range d.Scenarios {
		path := resolve(baseDir, ref.Path)
		spec, err := scenario.Load(path)
		if err != nil {
			return nil, err
		}
		if len(ref.Seeds) == 0 {
			s.Episodes = append(s.Episodes, Episode{Scenario: spec, Path: path})
			continue
		}
		for _, seed := range ref.Seeds {
			ep := spec
			ep.Seed = seed
			s.Episodes = append(s.Episodes, Episode{Scenario: ep, Path: path})
		}
	}
	return s, nil
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// #endregion suite
