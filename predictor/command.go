package predictor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var _ Predictor = &Command{}

// Command runs an external classifier as `<Path> <Args...> f1,f2,...` and
// reads the engine probabilities from the first non-empty line of stdout.
type Command struct {
	Path string
	Args []string
	// N is the expected number of weights; zero skips the check.
	N int

	Timeout    time.Duration
	MaxElapsed time.Duration
	Logger     *slog.Logger
}

func NewCommand(path string, args []string, n int) *Command {
	return &Command{
		Path:       path,
		Args:       args,
		N:          n,
		Timeout:    5 * time.Second,
		MaxElapsed: 20 * time.Second,
		Logger:     slog.Default().With("component", "predictor"),
	}
}

func (c *Command) Predict(ctx context.Context, features []float64) ([]float64, error) {
	var weights []float64
	attempt := 0

	op := func() error {
		attempt++
		w, err := c.predictOnce(ctx, features)
		if err != nil {
			c.logger().Warn("Classifier attempt failed.", "attempt", attempt, "err", err)
			return err
		}
		weights = w
		return nil
	}

	b := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
		backoff.WithMaxElapsedTime(c.MaxElapsed),
	), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("classifier %s: %w", c.Path, err)
	}

	return weights, nil
}

// predictOnce runs the classifier once. An attempt that outlives Timeout is
// retried; cancellation of ctx itself is not.
func (c *Command) predictOnce(ctx context.Context, features []float64) ([]float64, error) {
	attemptCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Args...), FormatFeatures(features))
	cmd := exec.CommandContext(attemptCtx, c.Path, args...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	c.logStderr(stderr.Bytes())
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if attemptCtx.Err() != nil {
			return nil, fmt.Errorf("classifier timed out after %v: %w", c.Timeout, attemptCtx.Err())
		}
		return nil, fmt.Errorf("command exited: %w", err)
	}

	weights, err := c.parse(stdout.String())
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return weights, nil
}

func (c *Command) parse(out string) ([]float64, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		weights, err := ParseFeatures(line)
		if err != nil {
			return nil, fmt.Errorf("parsing classifier output: %w", err)
		}
		for _, w := range weights {
			if w < 0 {
				return nil, fmt.Errorf("classifier returned negative weight %v", w)
			}
		}
		if c.N > 0 && len(weights) != c.N {
			return nil, fmt.Errorf("classifier returned %d weights, expected %d", len(weights), c.N)
		}
		return weights, nil
	}
	return nil, errors.New("classifier produced no output")
}

func (c *Command) logStderr(stderr []byte) {
	sc := bufio.NewScanner(bytes.NewReader(stderr))
	for sc.Scan() {
		c.logger().Info("Classifier stderr.", "line", sc.Text())
	}
}

func (c *Command) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
