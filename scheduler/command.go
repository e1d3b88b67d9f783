package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"sunny/portfolio"
	"sunny/predictor"
)

var _ Scheduler = &Command{}

// Command delegates the whole decision to an external program invoked as
// `<Path> <Args...> -p <cores> f1,f2,...` that prints "engine,cores" lines.
type Command struct {
	Path string
	Args []string
}

func NewCommand(path string, args []string) *Command {
	return &Command{Path: path, Args: args}
}

func (c *Command) Name() string {
	return KindCommand
}

func (c *Command) Schedule(ctx context.Context, features []float64, cores int) (portfolio.Portfolio, error) {
	logger := slog.Default().With("component", "scheduler", "scheduler", KindCommand)
	logger.Info("Using schedule command.", "command", c.Path)

	args := append(append([]string{}, c.Args...), "-p", strconv.Itoa(cores), predictor.FormatFeatures(features))
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	sc := bufio.NewScanner(&stderr)
	for sc.Scan() {
		logger.Error("Schedule command stderr.", "line", sc.Text())
	}
	if err != nil {
		return nil, fmt.Errorf("schedule command %s: %w", c.Path, err)
	}

	p, err := portfolio.Parse(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse as schedule: %w", err)
	}
	return p, nil
}
