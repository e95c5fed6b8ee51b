package stage

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/kbukum/imgflow/errors"
)

// Kind identifies one augmentation operation.
type Kind = string

// Built-in stage kinds.
const (
	Grayscale          Kind = "grayscale"
	GaussianBlur       Kind = "gaussian-blur"
	Sharpen            Kind = "sharpen"
	MultiplyBrightness Kind = "multiply-brightness"
	ChangeColorTemp    Kind = "change-color-temp"
	Flip               Kind = "flip"
)

// DefaultTopicPrefix is prepended to the kind to build a stage's default topic.
const DefaultTopicPrefix = "imgflow."

// Flip directions.
const (
	FlipHorizontal = "horizontal"
	FlipVertical   = "vertical"
)

// builtins lists the built-in kinds in their canonical order.
var builtins = []Kind{Grayscale, GaussianBlur, Sharpen, MultiplyBrightness, ChangeColorTemp, Flip}

// Params are the transform parameters bound to a stage. Only the fields
// relevant to the stage's kind are read.
type Params struct {
	// Sigma is the gaussian radius for gaussian-blur and sharpen.
	Sigma float64 `yaml:"sigma" mapstructure:"sigma" json:"sigma,omitempty"`
	// Factor multiplies brightness for multiply-brightness.
	Factor float64 `yaml:"factor" mapstructure:"factor" json:"factor,omitempty"`
	// Kelvin is the target white point for change-color-temp.
	Kelvin float64 `yaml:"kelvin" mapstructure:"kelvin" json:"kelvin,omitempty"`
	// Direction is horizontal or vertical for flip.
	Direction string `yaml:"direction" mapstructure:"direction" json:"direction,omitempty"`
}

// Stage is a resolved registry entry.
type Stage struct {
	Kind   Kind   `json:"kind"`
	Topic  string `json:"topic"`
	Suffix string `json:"suffix"`
	Params Params `json:"params"`
}

// Validate checks that the stage is complete and its params are usable.
func (s Stage) Validate() error {
	if strings.TrimSpace(s.Kind) == "" {
		return fmt.Errorf("stage kind is required")
	}
	if strings.TrimSpace(s.Topic) == "" {
		return fmt.Errorf("stage %s: topic is required", s.Kind)
	}
	if s.Suffix == "" {
		return fmt.Errorf("stage %s: suffix is required", s.Kind)
	}
	switch s.Kind {
	case GaussianBlur, Sharpen:
		if s.Params.Sigma <= 0 {
			return fmt.Errorf("stage %s: sigma must be positive (got: %v)", s.Kind, s.Params.Sigma)
		}
	case MultiplyBrightness:
		if s.Params.Factor <= 0 {
			return fmt.Errorf("stage %s: factor must be positive (got: %v)", s.Kind, s.Params.Factor)
		}
	case ChangeColorTemp:
		if s.Params.Kelvin < 1000 || s.Params.Kelvin > 40000 {
			return fmt.Errorf("stage %s: kelvin must be within [1000,40000] (got: %v)", s.Kind, s.Params.Kelvin)
		}
	case Flip:
		if s.Params.Direction != FlipHorizontal && s.Params.Direction != FlipVertical {
			return fmt.Errorf("stage %s: direction must be horizontal or vertical (got: %q)", s.Kind, s.Params.Direction)
		}
	}
	return nil
}

// Registry is an immutable mapping from stage kind to its topic, suffix and
// params. It is built once at process start and safe for concurrent use.
type Registry struct {
	stages map[Kind]Stage
	kinds  []Kind
}

// NewRegistry builds a registry from the given stages. The map is copied;
// later changes to it do not affect the registry.
func NewRegistry(stages map[Kind]Stage) (*Registry, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stage registry needs at least one stage")
	}
	r := &Registry{stages: make(map[Kind]Stage, len(stages))}
	topics := make(map[string]Kind, len(stages))
	for kind, s := range stages {
		if s.Kind == "" {
			s.Kind = kind
		}
		if s.Kind != kind {
			return nil, fmt.Errorf("stage registered as %q declares kind %q", kind, s.Kind)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if other, dup := topics[s.Topic]; dup {
			return nil, fmt.Errorf("stages %s and %s share topic %s", other, kind, s.Topic)
		}
		topics[s.Topic] = kind
		r.stages[kind] = s
		r.kinds = append(r.kinds, kind)
	}
	sort.Slice(r.kinds, func(i, j int) bool {
		oi, oj := order(r.kinds[i]), order(r.kinds[j])
		if oi != oj {
			return oi < oj
		}
		return r.kinds[i] < r.kinds[j]
	})
	return r, nil
}

// Default returns the registry of the six built-in stages with default
// params. An empty prefix uses DefaultTopicPrefix.
func Default(prefix string) *Registry {
	r, err := NewRegistry(Defaults(prefix))
	if err != nil {
		panic(err)
	}
	return r
}

// Defaults returns the built-in stage table, keyed by kind.
func Defaults(prefix string) map[Kind]Stage {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return map[Kind]Stage{
		Grayscale:          {Kind: Grayscale, Topic: prefix + Grayscale, Suffix: "_gray"},
		GaussianBlur:       {Kind: GaussianBlur, Topic: prefix + GaussianBlur, Suffix: "_gb", Params: Params{Sigma: 2.0}},
		Sharpen:            {Kind: Sharpen, Topic: prefix + Sharpen, Suffix: "_sharp", Params: Params{Sigma: 1.0}},
		MultiplyBrightness: {Kind: MultiplyBrightness, Topic: prefix + MultiplyBrightness, Suffix: "_bright", Params: Params{Factor: 1.3}},
		ChangeColorTemp:    {Kind: ChangeColorTemp, Topic: prefix + ChangeColorTemp, Suffix: "_temp", Params: Params{Kelvin: 4000}},
		Flip:               {Kind: Flip, Topic: prefix + Flip, Suffix: "_flip", Params: Params{Direction: FlipHorizontal}},
	}
}

// Resolve returns the stage registered for kind, or an UNKNOWN_STAGE error.
func (r *Registry) Resolve(kind string) (Stage, error) {
	s, ok := r.stages[kind]
	if !ok {
		return Stage{}, apperrors.UnknownStage(kind)
	}
	return s, nil
}

// Kinds returns the registered kinds in canonical order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// Stages returns every registered stage in canonical order.
func (r *Registry) Stages() []Stage {
	out := make([]Stage, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, r.stages[k])
	}
	return out
}

// Validate checks every kind in order and returns UNKNOWN_STAGE for the
// first one that is not registered.
func (r *Registry) Validate(kinds []string) error {
	for _, k := range kinds {
		if _, ok := r.stages[k]; !ok {
			return apperrors.UnknownStage(k)
		}
	}
	return nil
}

func order(k Kind) int {
	for i, b := range builtins {
		if b == k {
			return i
		}
	}
	return len(builtins)
}
