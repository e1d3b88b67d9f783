package engine

import (
	"errors"
	"fmt"
	"math"
)

// ID names a solver backend, e.g. "org.gecode.gecode".
type ID string

const (
	Choco   ID = "org.choco.choco"
	Chuffed ID = "org.chuffed.chuffed"
	CPSat   ID = "cp-sat"
	Gecode  ID = "org.gecode.gecode"
	Huub    ID = "solutions.huub"
	Picat   ID = "org.picat-lang.picat"
	CoinBC  ID = "org.minizinc.mip.coin-bc"
	Highs   ID = "org.minizinc.mip.highs"
	Scip    ID = "org.minizinc.mip.scip"
	Pumpkin ID = "nl.tudelft.algorithmics.pumpkin"
	Yuck    ID = "yuck"
)

var ErrInvalidProfile = errors.New("invalid capability profile")

type Kind int

const (
	Unrestricted Kind = iota
	Thresholded
)

func (k Kind) String() string {
	switch k {
	case Unrestricted:
		return "unrestricted"
	case Thresholded:
		return "thresholded"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "unrestricted":
		return Unrestricted, nil
	case "thresholded":
		return Thresholded, nil
	}
	return Unrestricted, fmt.Errorf("%w: unknown kind %q", ErrInvalidProfile, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Profile describes which core counts are useful for an engine. A thresholded
// engine runs either on a single core or on exactly MinParallel cores once its
// proportional share reaches TriggerFraction of MinParallel.
type Profile struct {
	Kind            Kind    `json:"kind"`
	MinParallel     int     `json:"minParallel,omitempty"`
	TriggerFraction float64 `json:"triggerFraction,omitempty"`
}

func UnrestrictedProfile() Profile {
	return Profile{Kind: Unrestricted}
}

func ThresholdedProfile(minParallel int, triggerFraction float64) Profile {
	return Profile{Kind: Thresholded, MinParallel: minParallel, TriggerFraction: triggerFraction}
}

func (p Profile) Validate() error {
	switch p.Kind {
	case Unrestricted:
		return nil
	case Thresholded:
		if p.MinParallel < 2 {
			return fmt.Errorf("%w: min parallel size %d must be at least 2", ErrInvalidProfile, p.MinParallel)
		}
		if p.TriggerFraction <= 0 || p.TriggerFraction > 1 || math.IsNaN(p.TriggerFraction) {
			return fmt.Errorf("%w: trigger fraction %v must be in (0, 1]", ErrInvalidProfile, p.TriggerFraction)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown kind %v", ErrInvalidProfile, p.Kind)
}

// TriggerCores is the smallest proportional proposal that earns the parallel block.
func (p Profile) TriggerCores() int {
	if p.Kind != Thresholded {
		return 0
	}
	return int(math.Ceil(p.TriggerFraction*float64(p.MinParallel) - 1e-9))
}

// Allows reports whether cores is a count the engine can use.
func (p Profile) Allows(cores int) bool {
	if cores < 0 {
		return false
	}
	if p.Kind == Thresholded {
		return cores <= 1 || cores >= p.MinParallel
	}
	return true
}

func (p Profile) String() string {
	if p.Kind == Thresholded {
		return fmt.Sprintf("thresholded(min=%d,trigger=%d)", p.MinParallel, p.TriggerCores())
	}
	return p.Kind.String()
}
