package referenceframe

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// FlagKind is one annotation that can be set on a frame of a configuration.
type FlagKind uint8

// Flag kinds. FlagClear removes all flags of a frame instead of setting one.
const (
	FlagClear FlagKind = iota
	FlagZeroVel
	FlagZeroAcc
	FlagFree
	FlagImpulseExchange
)

var flagKindNames = []string{"clear", "zeroVel", "zeroAcc", "free", "impulseExchange"}

func (kind FlagKind) String() string {
	if int(kind) < len(flagKindNames) {
		return flagKindNames[kind]
	}
	return fmt.Sprintf("FlagKind(%d)", int(kind))
}

// ParseFlagKind converts a flag name to a FlagKind.
func ParseFlagKind(name string) (FlagKind, error) {
	for i, n := range flagKindNames {
		if n == name {
			return FlagKind(i), nil
		}
	}
	return FlagClear, errors.Errorf("unknown flag kind %q", name)
}

// MarshalText encodes the flag kind by name.
func (kind FlagKind) MarshalText() ([]byte, error) {
	return []byte(kind.String()), nil
}

// UnmarshalText decodes a flag kind name.
func (kind *FlagKind) UnmarshalText(text []byte) error {
	parsed, err := ParseFlagKind(string(text))
	if err != nil {
		return err
	}
	*kind = parsed
	return nil
}

// FlagSet is the set of flags carried by one frame.
type FlagSet uint32

// Has reports whether kind is in the set.
func (fs FlagSet) Has(kind FlagKind) bool {
	return fs&(1<<kind) != 0
}

func (fs FlagSet) String() string {
	var names []string
	for i := FlagZeroVel; int(i) < len(flagKindNames); i++ {
		if fs.Has(i) {
			names = append(names, i.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Flag annotates one frame. Persistent flags carry over to every later configuration of a
// trajectory; the others hold for a single configuration.
type Flag struct {
	Kind    FlagKind
	Frame   string
	Persist bool
}

// Apply sets the flag on its frame in fs.
func (f Flag) Apply(fs *FrameSystem) error {
	if _, ok := fs.frames[f.Frame]; !ok {
		return NewFrameMissingError(f.Frame)
	}
	if f.Kind == FlagClear {
		delete(fs.flags, f.Frame)
		return nil
	}
	fs.flags[f.Frame] |= 1 << f.Kind
	return nil
}

func (f Flag) String() string {
	return fmt.Sprintf("flag %s on %q (persist=%t)", f.Kind, f.Frame, f.Persist)
}
