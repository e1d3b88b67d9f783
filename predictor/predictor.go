package predictor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Predictor produces one non-negative weight per catalog engine for a
// feature vector describing a problem instance.
type Predictor interface {
	Predict(ctx context.Context, features []float64) ([]float64, error)
}

// Uniform weighs every engine equally.
type Uniform struct {
	N int
}

func (u Uniform) Predict(_ context.Context, _ []float64) ([]float64, error) {
	weights := make([]float64, u.N)
	for i := range weights {
		weights[i] = 1
	}
	return weights, nil
}

// Fixed returns the same weights for every instance.
type Fixed []float64

func (f Fixed) Predict(_ context.Context, _ []float64) ([]float64, error) {
	return append([]float64(nil), f...), nil
}

// ParseFeatures parses comma-separated floats, e.g. "1.0,2.5,3.3".
func ParseFeatures(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("'%s' contains invalid values, expected comma-separated floats", s)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("'%s' contains a non-finite value", s)
		}
		out[i] = v
	}
	return out, nil
}

func FormatFeatures(features []float64) string {
	parts := make([]string, len(features))
	for i, f := range features {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
