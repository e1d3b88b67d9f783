package allocator

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"sunny/engine"
)

var ErrInvalidArgument = errors.New("invalid argument")

// floorSlack absorbs float error such as 0.3*10 = 2.9999999999999996 before flooring.
const floorSlack = 1e-9

// Allocator turns a weight vector over a catalog into an integral core
// assignment. It holds no mutable state and may be shared between goroutines.
type Allocator struct {
	catalog *engine.Catalog
	repair  RepairPolicy
}

type Option func(*Allocator)

func WithRepairPolicy(p RepairPolicy) Option {
	return func(a *Allocator) {
		if p != nil {
			a.repair = p
		}
	}
}

func New(c *engine.Catalog, opts ...Option) *Allocator {
	a := &Allocator{catalog: c, repair: FlagshipThenFallback{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) Catalog() *engine.Catalog {
	return a.catalog
}

// Allocate is shorthand for New(c).Allocate(weights, totalCores).
func Allocate(c *engine.Catalog, weights []float64, totalCores int) (Allocation, error) {
	return New(c).Allocate(weights, totalCores)
}

// Allocate distributes totalCores over the catalog engines in proportion to
// weights. The result sums to totalCores unless every weight is zero, in which
// case no cores are assigned.
func (a *Allocator) Allocate(weights []float64, totalCores int) (Allocation, error) {
	alloc, _, err := a.run(weights, totalCores, false)
	return alloc, err
}

// AllocateTrace is Allocate that also returns every pass of the loop.
func (a *Allocator) AllocateTrace(weights []float64, totalCores int) (Allocation, []Pass, error) {
	return a.run(weights, totalCores, true)
}

func (a *Allocator) validate(weights []float64, totalCores int) error {
	if totalCores < 0 {
		return fmt.Errorf("%w: negative core budget %d", ErrInvalidArgument, totalCores)
	}
	if len(weights) != a.catalog.Len() {
		return fmt.Errorf("%w: got %d weights for %d engines", ErrInvalidArgument, len(weights), a.catalog.Len())
	}
	sum := 0.0
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: weight %v for engine %s", ErrInvalidArgument, w, a.catalog.Engine(i))
		}
		sum += w
	}
	if math.IsInf(sum, 0) {
		return fmt.Errorf("%w: weights overflow", ErrInvalidArgument)
	}
	return nil
}

func (a *Allocator) run(weights []float64, totalCores int, trace bool) (Allocation, []Pass, error) {
	if err := a.validate(weights, totalCores); err != nil {
		return Allocation{}, nil, err
	}

	final := make([]int, a.catalog.Len())
	work := slices.Clone(weights)
	remaining := totalCores
	var passes []Pass

	if !anyPositive(work) {
		return a.allocation(final), passes, nil
	}

	for remaining > 0 && anyPositive(work) {
		proposal := propose(work, remaining)
		pass := Pass{Remaining: remaining, Proposal: proposal}

		if i := a.firstThresholded(proposal); i >= 0 {
			cores := a.settle(i, proposal[i], remaining)
			final[i] += cores
			remaining -= cores
			work[i] = 0

			pass.Settled = a.catalog.Engine(i)
			pass.Committed = cores
		} else {
			// Only unrestricted engines hold cores in this pass, so it is
			// compliant as a whole.
			for i, c := range proposal {
				final[i] += c
			}
			pass.Committed = remaining
			remaining = 0
		}

		if trace {
			passes = append(passes, pass)
		}
	}

	if remaining > 0 {
		i := a.repair.Place(a.catalog, final, remaining)
		if i < 0 || i >= len(final) {
			i = a.catalog.Index(a.catalog.Fallback())
		}
		final[i] += remaining
		if trace {
			passes = append(passes, Pass{
				Remaining: remaining,
				Settled:   a.catalog.Engine(i),
				Committed: remaining,
				Repair:    true,
			})
		}
	}

	return a.allocation(final), passes, nil
}

// firstThresholded returns the first thresholded engine in catalog order
// holding a nonzero proposal, or -1.
func (a *Allocator) firstThresholded(proposal []int) int {
	for i, c := range proposal {
		if c > 0 && a.catalog.ProfileAt(i).Kind == engine.Thresholded {
			return i
		}
	}
	return -1
}

// settle fixes a thresholded engine at either its parallel block or one core.
func (a *Allocator) settle(i, proposed, remaining int) int {
	p := a.catalog.ProfileAt(i)
	if proposed >= p.TriggerCores() && remaining >= p.MinParallel {
		return p.MinParallel
	}
	return 1
}

func (a *Allocator) allocation(cores []int) Allocation {
	return Allocation{Engines: a.catalog.Engines(), Cores: cores}
}

// propose floors each normalized share of remaining and hands the rounding
// remainder to the heaviest engine, first in order on ties. The result always
// sums to remaining.
func propose(weights []float64, remaining int) []int {
	out, assigned := floorShares(weights, remaining, floorSlack)
	if assigned > remaining {
		out, assigned = floorShares(weights, remaining, 0)
	}

	leader := -1
	for i, w := range weights {
		if w > 0 && (leader < 0 || w > weights[leader]) {
			leader = i
		}
	}
	out[leader] += remaining - assigned

	return out
}

func floorShares(weights []float64, remaining int, slack float64) ([]int, int) {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}

	out := make([]int, len(weights))
	assigned := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		out[i] = int(math.Floor(w/sum*float64(remaining) + slack))
		assigned += out[i]
	}
	return out, assigned
}

func anyPositive(weights []float64) bool {
	for _, w := range weights {
		if w > 0 {
			return true
		}
	}
	return false
}
