package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"sunny/allocator"
	"sunny/config"
	"sunny/engine"
	"sunny/node"
	"sunny/portfolio"
	"sunny/predictor"
	"sunny/scheduler"
	"sunny/store"
	"sunny/task"
	"sunny/worker"
)

var ErrInvalidRequest = errors.New("invalid request")

// Request asks for one instance to be solved.
type Request struct {
	Model    string    `json:"model"`
	Data     string    `json:"data,omitempty"`
	Features []float64 `json:"features,omitempty"`
	Cores    int       `json:"cores,omitempty"`
}

// Run is the record of one solve request and the portfolio launched for it.
type Run struct {
	ID        uuid.UUID           `json:"id"`
	Request   Request             `json:"request"`
	Scheduler string              `json:"scheduler"`
	Cores     int                 `json:"cores"`
	Portfolio portfolio.Portfolio `json:"portfolio"`
	Tasks     []uuid.UUID         `json:"taskIds"`
	Created   time.Time           `json:"created"`
}

// RunStatus is a run together with the current state of its tasks.
type RunStatus struct {
	Run
	Tasks []task.Task `json:"tasks"`
	Done  bool        `json:"done"`
}

type Manager struct {
	Allocator *allocator.Allocator
	Scheduler scheduler.Scheduler
	Worker    *worker.Worker
	Node      *node.Node
	RunDb     store.Store[Run]
	EventDb   store.Store[task.TaskEvent]

	logger *slog.Logger
}

// New wires a manager from cfg: catalog, scheduler, runtime and stores.
func New(cfg config.Config) (*Manager, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	alloc := allocator.New(catalog)

	var pred predictor.Predictor
	if cfg.Classifier != "" {
		pred = predictor.NewCommand(cfg.Classifier, cfg.ClassifierArgs, catalog.Len())
	}
	sched, err := scheduler.New(cfg.Scheduler, scheduler.Options{
		Allocator:    alloc,
		Predictor:    pred,
		ScheduleFile: cfg.ScheduleFile,
		Command:      cfg.Classifier,
		CommandArgs:  cfg.ClassifierArgs,
	})
	if err != nil {
		return nil, err
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, err
	}

	var (
		tasks  store.Store[task.Task]
		events store.Store[task.TaskEvent]
		runs   store.Store[Run]
	)
	switch cfg.Store {
	case config.StorePersistent:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		if tasks, err = store.NewBoltStore[task.Task](filepath.Join(cfg.DataDir, "tasks.db"), 0o600, "tasks"); err != nil {
			return nil, err
		}
		if events, err = store.NewBoltStore[task.TaskEvent](filepath.Join(cfg.DataDir, "events.db"), 0o600, "events"); err != nil {
			return nil, err
		}
		if runs, err = store.NewBoltStore[Run](filepath.Join(cfg.DataDir, "runs.db"), 0o600, "runs"); err != nil {
			return nil, err
		}
	default:
		tasks = store.NewMemoryStore[task.Task]()
		events = store.NewMemoryStore[task.TaskEvent]()
		runs = store.NewMemoryStore[Run]()
	}

	n, err := node.Local()
	if err != nil {
		slog.Warn("Could not inspect host, assuming one core.", "component", "manager", "err", err)
		n = node.New("localhost", 1, 0)
	}

	w := worker.New(n.Name, tasks, rt)
	w.Events = events
	w.Backup = catalog.Fallback()
	w.MemoryThreshold = cfg.MemoryThreshold

	return &Manager{
		Allocator: alloc,
		Scheduler: sched,
		Worker:    w,
		Node:      n,
		RunDb:     runs,
		EventDb:   events,
		logger:    slog.Default().With("component", "manager"),
	}, nil
}

func newRuntime(cfg config.Config) (task.Runtime, error) {
	switch cfg.Runtime {
	case config.RuntimeDocker:
		memory, err := cfg.DockerMemoryBytes()
		if err != nil {
			return nil, err
		}
		d, err := task.NewDocker(cfg.DockerImage, memory, cfg.SolverArgs)
		if err != nil {
			return nil, err
		}
		d.Exe = cfg.MinizincExe
		return d, nil
	default:
		return task.NewProcess(cfg.MinizincExe, cfg.SolverArgs, cfg.StopGracePeriod), nil
	}
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		m.logger = slog.Default().With("component", "manager")
	}
	return m.logger
}

func (m *Manager) Catalog() *engine.Catalog {
	return m.Allocator.Catalog()
}

func (m *Manager) Allocate(weights []float64, cores int) (allocator.Allocation, []allocator.Pass, error) {
	return m.Allocator.AllocateTrace(weights, cores)
}

// Solve schedules req and launches the resulting portfolio. It returns once
// every solver has been started.
func (m *Manager) Solve(ctx context.Context, req Request) (Run, error) {
	if req.Model == "" {
		return Run{}, fmt.Errorf("%w: missing model", ErrInvalidRequest)
	}
	if req.Cores < 0 {
		return Run{}, fmt.Errorf("%w: negative core count %d", ErrInvalidRequest, req.Cores)
	}

	cores := m.Node.Budget(req.Cores)
	p, err := m.Scheduler.Schedule(ctx, req.Features, cores)
	if err != nil {
		return Run{}, fmt.Errorf("scheduling: %w", err)
	}
	m.log().Info("Scheduled portfolio.", "scheduler", m.Scheduler.Name(), "cores", cores, "portfolio", p.String())

	run := Run{
		ID:        uuid.New(),
		Request:   req,
		Scheduler: m.Scheduler.Name(),
		Cores:     cores,
		Portfolio: p,
		Created:   time.Now().UTC(),
	}

	tasks, launchErr := m.Worker.Launch(ctx, run.ID, p, req.Model, req.Data, cores)
	for _, t := range tasks {
		run.Tasks = append(run.Tasks, t.ID)
	}
	if err := m.RunDb.Put(run.ID.String(), run); err != nil {
		return run, err
	}
	if errors.Is(launchErr, worker.ErrNothingStarted) {
		return run, launchErr
	}
	if launchErr != nil {
		m.log().Error("Some solvers failed to start.", "run", run.ID, "err", launchErr)
	}
	return run, nil
}

func (m *Manager) GetRun(id uuid.UUID) (RunStatus, error) {
	run, err := m.RunDb.Get(id.String())
	if err != nil {
		return RunStatus{}, err
	}

	status := RunStatus{Run: run, Done: true}
	for _, tid := range run.Tasks {
		t, err := m.Worker.Db.Get(tid.String())
		if err != nil {
			continue
		}
		status.Tasks = append(status.Tasks, t)
		if !t.State.Terminal() {
			status.Done = false
		}
	}
	return status, nil
}

// ListRuns returns every run, oldest first.
func (m *Manager) ListRuns() ([]Run, error) {
	runs, err := m.RunDb.List()
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(runs, func(a, b Run) int {
		return a.Created.Compare(b.Created)
	})
	return runs, nil
}

// StopRun stops every solver of the run that is still going.
func (m *Manager) StopRun(ctx context.Context, id uuid.UUID) (RunStatus, error) {
	run, err := m.RunDb.Get(id.String())
	if err != nil {
		return RunStatus{}, err
	}

	var errs []error
	for _, tid := range run.Tasks {
		if res := m.Worker.StopTask(ctx, tid); res.Error != nil {
			errs = append(errs, res.Error)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return RunStatus{}, err
	}
	return m.GetRun(id)
}

// Close stops all solvers and closes the stores.
func (m *Manager) Close(ctx context.Context) error {
	errs := []error{m.Worker.StopAll(ctx)}
	if err := m.Worker.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, m.Worker.Db.Close(), m.RunDb.Close())
	if m.EventDb != nil {
		errs = append(errs, m.EventDb.Close())
	}
	return errors.Join(errs...)
}
