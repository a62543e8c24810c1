package feature

import (
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Params are the free form parameters of a feature in a problem file.
type Params map[string]interface{}

// Constructor builds a feature from its parameters.
type Constructor func(params Params) (Feature, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a feature available by symbol. Registering a symbol twice panics.
func Register(symbol string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[symbol]; ok {
		panic(errors.Errorf("feature %q already registered", symbol))
	}
	registry[symbol] = ctor
}

// New builds the feature registered under symbol.
func New(symbol string, params Params) (Feature, error) {
	registryMu.RLock()
	ctor, ok := registry[symbol]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown feature symbol %q", symbol)
	}
	f, err := ctor(params)
	if err != nil {
		return nil, errors.Wrapf(err, "feature %q", symbol)
	}
	return f, nil
}

// Symbols lists the registered symbols in sorted order.
func Symbols() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	symbols := make([]string, 0, len(registry))
	for s := range registry {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func decode(params Params, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]interface{}(params))
}

type frameParams struct {
	Frame     string    `mapstructure:"frame"`
	Reference string    `mapstructure:"reference"`
	Frames    []string  `mapstructure:"frames"`
	Axis      []float64 `mapstructure:"axis"`
	Flip      bool      `mapstructure:"flip"`
	Values    []float64 `mapstructure:"values"`
}

func parseFrameParams(params Params, required ...string) (*frameParams, error) {
	fp := &frameParams{}
	if err := decode(params, fp); err != nil {
		return nil, err
	}
	for _, key := range required {
		switch key {
		case "frame":
			if fp.Frame == "" {
				return nil, errors.New("missing parameter \"frame\"")
			}
		case "reference":
			if fp.Reference == "" {
				return nil, errors.New("missing parameter \"reference\"")
			}
		}
	}
	return fp, nil
}

func init() {
	Register("qItself", func(params Params) (Feature, error) {
		fp, err := parseFrameParams(params)
		if err != nil {
			return nil, err
		}
		return &JointState{Frames: fp.Frames}, nil
	})
	Register("transition", func(params Params) (Feature, error) {
		if _, err := parseFrameParams(params); err != nil {
			return nil, err
		}
		return &Transition{}, nil
	})
	Register("position", func(params Params) (Feature, error) {
		fp, err := parseFrameParams(params, "frame")
		if err != nil {
			return nil, err
		}
		return &Position{Frame: fp.Frame}, nil
	})
	Register("positionDiff", func(params Params) (Feature, error) {
		fp, err := parseFrameParams(params, "frame", "reference")
		if err != nil {
			return nil, err
		}
		return &PositionDiff{Frame: fp.Frame, Reference: fp.Reference}, nil
	})
	Register("vector", func(params Params) (Feature, error) {
		fp, err := parseFrameParams(params, "frame")
		if err != nil {
			return nil, err
		}
		axis := r3.Vector{Z: 1}
		if fp.Axis != nil {
			if len(fp.Axis) != 3 {
				return nil, errors.Errorf("axis needs 3 values, got %d", len(fp.Axis))
			}
			axis = r3.Vector{X: fp.Axis[0], Y: fp.Axis[1], Z: fp.Axis[2]}
		}
		return &AxisVector{Frame: fp.Frame, Axis: axis, Flip: fp.Flip}, nil
	})
	Register("flagConstraints", func(params Params) (Feature, error) {
		if _, err := parseFrameParams(params); err != nil {
			return nil, err
		}
		return &FlagConstraints{}, nil
	})
	Register("constant", func(params Params) (Feature, error) {
		fp, err := parseFrameParams(params)
		if err != nil {
			return nil, err
		}
		return &Constant{Values: fp.Values}, nil
	})
}
