package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunny/allocator"
	"sunny/engine"
	"sunny/portfolio"
	"sunny/predictor"
)

type failingPredictor struct{}

func (failingPredictor) Predict(context.Context, []float64) ([]float64, error) {
	return nil, errors.New("model not loaded")
}

func testAllocator(t *testing.T) *allocator.Allocator {
	t.Helper()
	c, err := engine.NewCatalog([]engine.Entry{
		{ID: "A"},
		{ID: "B", Profile: engine.ThresholdedProfile(8, 0.625)},
		{ID: "C"},
	}, "B", "C")
	require.NoError(t, err)
	return allocator.New(c)
}

func TestProportional(t *testing.T) {
	s := NewProportional(predictor.Fixed{0.1, 0.8, 0.1}, testAllocator(t))
	assert.Equal(t, KindProportional, s.Name())

	p, err := s.Schedule(context.Background(), []float64{1, 2}, 16)
	require.NoError(t, err)
	assert.Equal(t, portfolio.Portfolio{
		{Engine: "A", Cores: 4},
		{Engine: "B", Cores: 8},
		{Engine: "C", Cores: 4},
	}, p)

	s = NewProportional(predictor.Fixed{0.6, 0.3, 0.1}, testAllocator(t))
	p, err = s.Schedule(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Equal(t, portfolio.Portfolio{{Engine: "A", Cores: 3}, {Engine: "B", Cores: 1}}, p)
}

func TestProportionalErrors(t *testing.T) {
	s := NewProportional(failingPredictor{}, testAllocator(t))
	_, err := s.Schedule(context.Background(), nil, 4)
	assert.ErrorContains(t, err, "model not loaded")

	s = NewProportional(predictor.Fixed{1, 1}, testAllocator(t))
	_, err = s.Schedule(context.Background(), nil, 4)
	assert.ErrorIs(t, err, allocator.ErrInvalidArgument)
}

func TestStatic(t *testing.T) {
	s := &Static{Portfolio: portfolio.Default()}
	p, err := s.Schedule(context.Background(), nil, 8)
	require.NoError(t, err)
	assert.Equal(t, portfolio.Default(), p)

	p[0].Cores = 99
	assert.Equal(t, 1, s.Portfolio[0].Cores)

	path := filepath.Join(t.TempDir(), "schedule")
	require.NoError(t, os.WriteFile(path, []byte("cp-sat,8\n"), 0o600))
	fromFile, err := NewStaticFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, portfolio.Portfolio{{Engine: engine.CPSat, Cores: 8}}, fromFile.Portfolio)
}

func TestCommand(t *testing.T) {
	script := filepath.Join(t.TempDir(), "ai.sh")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
[ "$1" = "-p" ] || exit 2
echo "org.gecode.gecode,$2"
echo "features were $3" >&2
`), 0o755))

	s := NewCommand(script, nil)
	p, err := s.Schedule(context.Background(), []float64{1, 2}, 6)
	require.NoError(t, err)
	assert.Equal(t, portfolio.Portfolio{{Engine: engine.Gecode, Cores: 6}}, p)

	bad := filepath.Join(t.TempDir(), "bad.sh")
	require.NoError(t, os.WriteFile(bad, []byte("#!/bin/sh\necho nonsense\n"), 0o755))
	_, err = NewCommand(bad, nil).Schedule(context.Background(), nil, 2)
	assert.ErrorContains(t, err, "failed to parse as schedule")
}

func TestNew(t *testing.T) {
	a := testAllocator(t)

	s, err := New(KindProportional, Options{Allocator: a})
	require.NoError(t, err)
	p, err := s.Schedule(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Cores())

	s, err = New(KindStatic, Options{})
	require.NoError(t, err)
	assert.Equal(t, KindStatic, s.Name())

	_, err = New(KindCommand, Options{})
	assert.Error(t, err)
	_, err = New(KindProportional, Options{})
	assert.Error(t, err)
	_, err = New("roundrobin", Options{})
	assert.Error(t, err)
}
