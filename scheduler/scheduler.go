package scheduler

import (
	"context"
	"fmt"

	"sunny/allocator"
	"sunny/portfolio"
	"sunny/predictor"
)

// Scheduler decides which engines run on how many cores for one instance.
type Scheduler interface {
	Name() string
	Schedule(ctx context.Context, features []float64, cores int) (portfolio.Portfolio, error)
}

const (
	KindProportional = "proportional"
	KindStatic       = "static"
	KindCommand      = "command"
)

type Options struct {
	Allocator    *allocator.Allocator
	Predictor    predictor.Predictor
	ScheduleFile string
	Command      string
	CommandArgs  []string
}

func New(kind string, opts Options) (Scheduler, error) {
	switch kind {
	case KindProportional, "":
		if opts.Allocator == nil {
			return nil, fmt.Errorf("proportional scheduler needs an allocator")
		}
		p := opts.Predictor
		if p == nil {
			p = predictor.Uniform{N: opts.Allocator.Catalog().Len()}
		}
		return NewProportional(p, opts.Allocator), nil
	case KindStatic:
		if opts.ScheduleFile == "" {
			return &Static{Portfolio: portfolio.Default()}, nil
		}
		return NewStaticFromFile(opts.ScheduleFile)
	case KindCommand:
		if opts.Command == "" {
			return nil, fmt.Errorf("command scheduler needs a command")
		}
		return NewCommand(opts.Command, opts.CommandArgs), nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", kind)
	}
}
