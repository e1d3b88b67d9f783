package scheduler

import (
	"context"
	"log/slog"

	"sunny/portfolio"
)

var _ Scheduler = &Static{}

// Static always returns the same portfolio regardless of the instance.
type Static struct {
	Portfolio portfolio.Portfolio
}

func NewStaticFromFile(path string) (*Static, error) {
	p, err := portfolio.Load(path)
	if err != nil {
		return nil, err
	}
	return &Static{Portfolio: p}, nil
}

func (s *Static) Name() string {
	return KindStatic
}

func (s *Static) Schedule(_ context.Context, _ []float64, cores int) (portfolio.Portfolio, error) {
	if total := s.Portfolio.Cores(); total != cores {
		slog.Warn("Static schedule cores do not match the designated cores.",
			"component", "scheduler", "schedule", total, "cores", cores)
	}
	return append(portfolio.Portfolio(nil), s.Portfolio...), nil
}
