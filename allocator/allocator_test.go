package allocator

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunny/engine"
	"sunny/portfolio"
)

func testCatalog(t *testing.T) *engine.Catalog {
	t.Helper()
	c, err := engine.NewCatalog([]engine.Entry{
		{ID: "A"},
		{ID: "B", Profile: engine.ThresholdedProfile(8, 0.625)},
		{ID: "C"},
	}, "B", "C")
	require.NoError(t, err)
	return c
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		total   int
		want    []int
	}{
		{
			name:    "thresholded engine takes its parallel block",
			weights: []float64{0.1, 0.8, 0.1},
			total:   16,
			want:    []int{4, 8, 4},
		},
		{
			name:    "thresholded engine below trigger runs on one core",
			weights: []float64{0.6, 0.3, 0.1},
			total:   4,
			want:    []int{3, 1, 0},
		},
		{
			name:    "proposal exactly at trigger",
			weights: []float64{0.3, 0.5, 0.2},
			total:   10,
			want:    []int{2, 8, 0},
		},
		{
			name:    "proposal just under trigger",
			weights: []float64{0.6, 0.4, 0},
			total:   10,
			want:    []int{9, 1, 0},
		},
		{
			name:    "budget below parallel block",
			weights: []float64{0, 1, 0},
			total:   7,
			want:    []int{0, 1, 6},
		},
		{
			name:    "leftover lifts flagship",
			weights: []float64{0, 1, 0},
			total:   10,
			want:    []int{0, 10, 0},
		},
		{
			name:    "leftover goes to fallback",
			weights: []float64{0, 1, 0},
			total:   4,
			want:    []int{0, 1, 3},
		},
		{
			name:    "exact parallel block",
			weights: []float64{0, 1, 0},
			total:   8,
			want:    []int{0, 8, 0},
		},
		{
			name:    "unnormalized weights",
			weights: []float64{1, 8, 1},
			total:   16,
			want:    []int{4, 8, 4},
		},
		{
			name:    "single engine dominance",
			weights: []float64{1000, 1, 1},
			total:   16,
			want:    []int{16, 0, 0},
		},
		{
			name:    "all weights zero",
			weights: []float64{0, 0, 0},
			total:   12,
			want:    []int{0, 0, 0},
		},
		{
			name:    "zero budget",
			weights: []float64{0.2, 0.5, 0.3},
			total:   0,
			want:    []int{0, 0, 0},
		},
		{
			name:    "one core",
			weights: []float64{0.2, 0.5, 0.3},
			total:   1,
			want:    []int{0, 1, 0},
		},
		{
			name:    "tie goes to first engine",
			weights: []float64{0.5, 0, 0.5},
			total:   5,
			want:    []int{3, 0, 2},
		},
	}

	a := New(testCatalog(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Allocate(tt.weights, tt.total)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Cores)
			assert.Equal(t, []engine.ID{"A", "B", "C"}, got.Engines)
		})
	}
}

func TestAllocateTrace(t *testing.T) {
	a := New(testCatalog(t))

	alloc, passes, err := a.AllocateTrace([]float64{0.1, 0.8, 0.1}, 16)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 8, 4}, alloc.Cores)
	require.Len(t, passes, 2)

	assert.Equal(t, 16, passes[0].Remaining)
	assert.Equal(t, []int{1, 14, 1}, passes[0].Proposal)
	assert.Equal(t, engine.ID("B"), passes[0].Settled)
	assert.Equal(t, 8, passes[0].Committed)

	assert.Equal(t, 8, passes[1].Remaining)
	assert.Equal(t, []int{4, 0, 4}, passes[1].Proposal)
	assert.Empty(t, passes[1].Settled)
	assert.Equal(t, 8, passes[1].Committed)

	_, passes, err = a.AllocateTrace([]float64{0, 1, 0}, 4)
	require.NoError(t, err)
	require.Len(t, passes, 2)
	assert.Equal(t, 1, passes[0].Committed)
	assert.True(t, passes[1].Repair)
	assert.Equal(t, engine.ID("C"), passes[1].Settled)
	assert.Equal(t, 3, passes[1].Committed)
}

func TestAllocateInvalidArgument(t *testing.T) {
	a := New(testCatalog(t))

	tests := []struct {
		name    string
		weights []float64
		total   int
	}{
		{name: "too few weights", weights: []float64{1, 1}, total: 4},
		{name: "too many weights", weights: []float64{1, 1, 1, 1}, total: 4},
		{name: "negative weight", weights: []float64{1, -0.5, 1}, total: 4},
		{name: "nan weight", weights: []float64{1, math.NaN(), 1}, total: 4},
		{name: "infinite weight", weights: []float64{math.Inf(1), 0, 0}, total: 4},
		{name: "overflowing weights", weights: []float64{math.MaxFloat64, math.MaxFloat64, 0}, total: 4},
		{name: "negative budget", weights: []float64{1, 1, 1}, total: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Allocate(tt.weights, tt.total)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, got.Cores)
		})
	}
}

func TestAllocateFallbackOnlyRepair(t *testing.T) {
	a := New(testCatalog(t), WithRepairPolicy(FallbackOnly{}))

	got, err := a.Allocate([]float64{0, 1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 8, 2}, got.Cores)
}

func TestAllocateRepairFuncOutOfRange(t *testing.T) {
	a := New(testCatalog(t), WithRepairPolicy(RepairFunc(func(*engine.Catalog, []int, int) int {
		return 42
	})))

	got, err := a.Allocate([]float64{0, 1, 0}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, got.Cores)
}

func TestAllocationPortfolio(t *testing.T) {
	got, err := Allocate(testCatalog(t), []float64{0.6, 0.3, 0.1}, 4)
	require.NoError(t, err)

	assert.Equal(t, portfolio.Portfolio{
		{Engine: "A", Cores: 3},
		{Engine: "B", Cores: 1},
	}, got.Portfolio())
	assert.Equal(t, 4, got.Total())
	assert.Equal(t, 1, got.Get("B"))
	assert.Equal(t, 0, got.Get("C"))
	assert.Equal(t, 0, got.Get("missing"))
	assert.Equal(t, "[A=3 B=1 C=0]", got.String())

	empty, err := Allocate(testCatalog(t), []float64{0, 0, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, empty.Portfolio())
}

func TestAllocateProperties(t *testing.T) {
	multi, err := engine.NewCatalog([]engine.Entry{
		{ID: "t1", Profile: engine.ThresholdedProfile(4, 0.5)},
		{ID: "u1"},
		{ID: "t2", Profile: engine.ThresholdedProfile(8, 0.625)},
		{ID: "t3", Profile: engine.ThresholdedProfile(16, 0.75)},
		{ID: "u2"},
	}, "t2", "u2")
	require.NoError(t, err)

	catalogs := map[string]*engine.Catalog{
		"default": engine.Default(),
		"small":   testCatalog(t),
		"multi":   multi,
	}

	rng := rand.New(rand.NewSource(7))
	for name, c := range catalogs {
		t.Run(name, func(t *testing.T) {
			a := New(c)
			for iter := 0; iter < 2000; iter++ {
				weights := make([]float64, c.Len())
				for i := range weights {
					switch rng.Intn(4) {
					case 0:
						weights[i] = 0
					case 1:
						weights[i] = rng.Float64() * 1e-3
					default:
						weights[i] = rng.Float64()
					}
				}
				total := rng.Intn(97)

				got, err := a.Allocate(weights, total)
				require.NoError(t, err)
				require.Len(t, got.Cores, c.Len())

				if !anyPositive(weights) {
					assert.Equal(t, 0, got.Total(), "weights %v", weights)
					continue
				}
				assert.Equal(t, total, got.Total(), "weights %v total %d", weights, total)
				for i, cores := range got.Cores {
					assert.GreaterOrEqual(t, cores, 0)
					assert.True(t, c.ProfileAt(i).Allows(cores),
						"engine %s got %d cores, weights %v total %d", c.Engine(i), cores, weights, total)
				}
			}
		})
	}
}

func TestAllocateDeterministicAndConcurrent(t *testing.T) {
	a := New(engine.Default())
	weights := []float64{0.05, 0.1, 0.55, 0.2, 0.05, 0.05}

	want, err := a.Allocate(weights, 32)
	require.NoError(t, err)
	assert.Equal(t, 32, want.Total())

	var wg sync.WaitGroup
	results := make([]Allocation, 64)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = a.Allocate(weights, 32)
		}()
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
	assert.Equal(t, []float64{0.05, 0.1, 0.55, 0.2, 0.05, 0.05}, weights, "input weights must not be modified")
}

func TestPropose(t *testing.T) {
	tests := []struct {
		name      string
		weights   []float64
		remaining int
		want      []int
	}{
		{name: "remainder to leader", weights: []float64{0.1, 0.8, 0.1}, remaining: 16, want: []int{1, 14, 1}},
		{name: "float error absorbed", weights: []float64{0.7, 0.3}, remaining: 10, want: []int{7, 3}},
		{name: "zero weights get nothing", weights: []float64{0, 2, 0, 2}, remaining: 3, want: []int{0, 2, 0, 1}},
		{name: "single weight", weights: []float64{0, 0, 5}, remaining: 9, want: []int{0, 0, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := propose(tt.weights, tt.remaining)
			assert.Equal(t, tt.want, got)
		})
	}
}
