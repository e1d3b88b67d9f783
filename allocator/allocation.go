package allocator

import (
	"fmt"
	"strings"

	"sunny/engine"
	"sunny/portfolio"
)

// Allocation holds one core count per catalog engine, in catalog order.
type Allocation struct {
	Engines []engine.ID `json:"engines"`
	Cores   []int       `json:"cores"`
}

func (a Allocation) Total() int {
	total := 0
	for _, c := range a.Cores {
		total += c
	}
	return total
}

func (a Allocation) Get(id engine.ID) int {
	for i, e := range a.Engines {
		if e == id {
			return a.Cores[i]
		}
	}
	return 0
}

// Portfolio lists the engines with at least one core, in catalog order.
func (a Allocation) Portfolio() portfolio.Portfolio {
	p := portfolio.Portfolio{}
	for i, c := range a.Cores {
		if c > 0 {
			p = append(p, portfolio.Assignment{Engine: a.Engines[i], Cores: c})
		}
	}
	return p
}

func (a Allocation) String() string {
	parts := make([]string, len(a.Engines))
	for i, e := range a.Engines {
		parts[i] = fmt.Sprintf("%s=%d", e, a.Cores[i])
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Pass records one iteration of the allocation loop. Settled is empty when the
// whole proposal was committed at once.
type Pass struct {
	Remaining int       `json:"remaining"`
	Proposal  []int     `json:"proposal,omitempty"`
	Settled   engine.ID `json:"settled,omitempty"`
	Committed int       `json:"committed"`
	Repair    bool      `json:"repair,omitempty"`
}

func (p Pass) String() string {
	switch {
	case p.Repair:
		return fmt.Sprintf("repair: %d leftover cores to %s", p.Committed, p.Settled)
	case p.Settled != "":
		return fmt.Sprintf("remaining=%d proposal=%v: settle %s at %d", p.Remaining, p.Proposal, p.Settled, p.Committed)
	default:
		return fmt.Sprintf("remaining=%d proposal=%v: commit all", p.Remaining, p.Proposal)
	}
}
