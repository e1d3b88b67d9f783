package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"sunny/allocator"
	"sunny/portfolio"
	"sunny/predictor"
)

var _ Scheduler = &Proportional{}

// Proportional asks the predictor for engine weights and turns them into a
// core allocation.
type Proportional struct {
	Predictor predictor.Predictor
	Allocator *allocator.Allocator
	logger    *slog.Logger
}

func NewProportional(p predictor.Predictor, a *allocator.Allocator) *Proportional {
	return &Proportional{
		Predictor: p,
		Allocator: a,
		logger:    slog.Default().With("component", "scheduler", "scheduler", KindProportional),
	}
}

func (p *Proportional) Name() string {
	return KindProportional
}

func (p *Proportional) Schedule(ctx context.Context, features []float64, cores int) (portfolio.Portfolio, error) {
	weights, err := p.Predictor.Predict(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("predicting engine weights: %w", err)
	}

	alloc, passes, err := p.Allocator.AllocateTrace(weights, cores)
	if err != nil {
		return nil, err
	}
	for _, pass := range passes {
		p.logger.Debug("Allocation pass.", "pass", pass.String())
	}
	p.logger.Info("Allocated cores.", "weights", weights, "cores", cores, "allocation", alloc.String())

	return alloc.Portfolio(), nil
}
