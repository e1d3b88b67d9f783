package allocator

import "sunny/engine"

// RepairPolicy picks the engine that absorbs budget the proportional loop
// could not place. Place returns a catalog index; an out of range index sends
// the leftover to the catalog fallback.
type RepairPolicy interface {
	Place(c *engine.Catalog, final []int, leftover int) int
}

type RepairFunc func(c *engine.Catalog, final []int, leftover int) int

func (f RepairFunc) Place(c *engine.Catalog, final []int, leftover int) int {
	return f(c, final, leftover)
}

// FlagshipThenFallback pushes the leftover onto the flagship when that lifts
// it to its parallel block, and onto the fallback otherwise.
type FlagshipThenFallback struct{}

func (FlagshipThenFallback) Place(c *engine.Catalog, final []int, leftover int) int {
	if id := c.Flagship(); id != "" {
		i := c.Index(id)
		if final[i]+leftover >= c.ProfileAt(i).MinParallel {
			return i
		}
	}
	return c.Index(c.Fallback())
}

// FallbackOnly always sends the leftover to the fallback engine.
type FallbackOnly struct{}

func (FallbackOnly) Place(c *engine.Catalog, _ []int, _ int) int {
	return c.Index(c.Fallback())
}
