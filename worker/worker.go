package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-collections/collections/queue"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sunny/engine"
	"sunny/portfolio"
	"sunny/store"
	"sunny/task"
)

type running struct {
	task *task.Task
	// done is closed once the exit has been recorded.
	done chan struct{}
}

// Worker launches solver tasks on the local machine and tracks them until
// they exit.
type Worker struct {
	Name    string
	Queue   *queue.Queue
	Db      store.Store[task.Task]
	Events  store.Store[task.TaskEvent]
	Runtime task.Runtime
	// Backup runs on the whole budget when a portfolio assigns no cores.
	Backup engine.ID
	Stats  *Stats

	MemoryThreshold float64

	mu      sync.Mutex
	running map[uuid.UUID]*running
	wg      sync.WaitGroup
	logger  *slog.Logger

	readStats func() *Stats
	resident  func(pid int) uint64
}

func New(name string, db store.Store[task.Task], rt task.Runtime) *Worker {
	return &Worker{
		Name:            name,
		Queue:           queue.New(),
		Db:              db,
		Runtime:         rt,
		Backup:          engine.Gecode,
		MemoryThreshold: 0.9,
		running:         make(map[uuid.UUID]*running),
		logger:          slog.Default().With("component", "worker", "worker", name),
		readStats:       GetStats,
		resident:        residentKb,
	}
}

func (w *Worker) AddTask(t task.Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Queue.Enqueue(t)
}

func (w *Worker) dequeue() (task.Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Queue.Len() == 0 {
		return task.Task{}, false
	}
	return w.Queue.Dequeue().(task.Task), true
}

// ErrNothingStarted is returned by Launch when no solver of the portfolio
// could be started.
var ErrNothingStarted = errors.New("no solver started")

// Launch creates one task per assignment and starts each of them before
// returning. An empty portfolio launches the backup engine on all cores. The
// returned tasks reflect the state recorded after their start.
func (w *Worker) Launch(ctx context.Context, runID uuid.UUID, p portfolio.Portfolio, model, data string, cores int) ([]task.Task, error) {
	if len(p) == 0 || p.Cores() == 0 {
		w.logger.Warn("Empty schedule, falling back to backup solver.", "engine", w.Backup, "cores", cores)
		p = portfolio.Portfolio{{Engine: w.Backup, Cores: max(cores, 1)}}
	}

	var (
		launched []task.Task
		errs     []error
		started  int
	)
	for _, a := range p {
		if a.Cores <= 0 {
			continue
		}
		t := task.New(runID, a.Engine, a.Cores, model, data)
		t.State = task.Scheduled
		if err := w.persist(*t); err != nil {
			return launched, err
		}

		if res := w.StartTask(ctx, *t); res.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Engine, res.Error))
		} else {
			started++
		}

		current, err := w.Db.Get(t.ID.String())
		if err != nil {
			current = *t
		}
		launched = append(launched, current)
	}

	if started == 0 {
		errs = append(errs, ErrNothingStarted)
	}
	return launched, errors.Join(errs...)
}

// RunTasks drains the queue whenever it has work until ctx is done.
func (w *Worker) RunTasks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			result, ok := w.runTask(ctx)
			if !ok {
				break
			}
			if result.Error != nil {
				w.logger.Error("Error running task.", "err", result.Error)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) runTask(ctx context.Context) (task.Result, bool) {
	queued, ok := w.dequeue()
	if !ok {
		return task.Result{}, false
	}

	persisted, err := w.Db.Get(queued.ID.String())
	if err != nil {
		persisted = queued
		if err := w.persist(queued); err != nil {
			return task.Result{Error: err}, true
		}
	}

	if !task.ValidStateTransition(persisted.State, queued.State) {
		return task.Result{Error: fmt.Errorf("invalid transition from %v to %v", persisted.State, queued.State)}, true
	}

	switch queued.State {
	case task.Scheduled:
		return w.StartTask(ctx, queued), true
	case task.Stopped:
		return w.StopTask(ctx, queued.ID), true
	default:
		return task.Result{Error: fmt.Errorf("cannot act on task in state %v", queued.State)}, true
	}
}

func (w *Worker) StartTask(ctx context.Context, t task.Task) task.Result {
	tp := &t
	tp.StartTime = time.Now().UTC()

	result := w.Runtime.Start(ctx, tp)
	if result.Error != nil {
		w.logger.Error("Error starting task.", "task", t.ID, "engine", t.Engine, "err", result.Error)
		tp.State = task.Failed
		tp.Error = result.Error.Error()
		tp.FinishTime = time.Now().UTC()
		_ = w.persist(*tp)
		return result
	}

	r := &running{task: tp, done: make(chan struct{})}
	w.mu.Lock()
	tp.State = task.Running
	w.running[tp.ID] = r
	snapshot := *tp
	w.mu.Unlock()
	_ = w.persist(snapshot)

	w.wg.Add(1)
	go w.await(r)

	return result
}

func (w *Worker) await(r *running) {
	defer w.wg.Done()
	defer close(r.done)
	t := r.task
	result := w.Runtime.Wait(context.Background(), t)

	w.mu.Lock()
	delete(w.running, t.ID)
	if t.State == task.Running {
		if result.Error != nil {
			t.State = task.Failed
			t.Error = result.Error.Error()
		} else {
			t.State = task.Completed
		}
	}
	t.ExitCode = result.ExitCode
	t.FinishTime = time.Now().UTC()
	snapshot := *t
	w.mu.Unlock()

	if err := w.persist(snapshot); err != nil {
		w.logger.Error("Error persisting task.", "task", t.ID, "err", err)
	}
	w.logger.Info("Solver finished.", "engine", t.Engine, "state", snapshot.State, "exitCode", snapshot.ExitCode)
}

func (w *Worker) StopTask(ctx context.Context, id uuid.UUID) task.Result {
	w.mu.Lock()
	r, ok := w.running[id]
	if ok {
		r.task.State = task.Stopped
	}
	w.mu.Unlock()

	if !ok {
		persisted, err := w.Db.Get(id.String())
		if err != nil {
			return task.Result{Error: err, Action: "stop"}
		}
		if persisted.State.Terminal() || !task.ValidStateTransition(persisted.State, task.Stopped) {
			return task.Result{Action: "stop", Result: "not running"}
		}
		persisted.State = task.Stopped
		persisted.FinishTime = time.Now().UTC()
		return task.Result{Error: w.persist(persisted), Action: "stop", Result: "success"}
	}

	result := w.Runtime.Stop(ctx, r.task)
	if result.Error != nil {
		w.logger.Error("Error stopping task.", "task", id, "err", result.Error)
		return result
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return task.Result{Error: ctx.Err(), Action: "stop"}
	}
	w.logger.Info("Stopped solver.", "engine", r.task.Engine, "task", id)
	return result
}

// StopAll stops every running task concurrently.
func (w *Worker) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, t := range w.Running() {
		g.Go(func() error {
			return w.StopTask(ctx, t.ID).Error
		})
	}
	return g.Wait()
}

// Wait blocks until every started task has exited or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) Running() []task.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	tasks := make([]task.Task, 0, len(w.running))
	for _, r := range w.running {
		tasks = append(tasks, *r.task)
	}
	return tasks
}

func (w *Worker) GetTasks() []task.Task {
	tasks, err := w.Db.List()
	if err != nil {
		w.logger.Error("Error listing tasks.", "err", err)
		return nil
	}
	return tasks
}

func (w *Worker) persist(t task.Task) error {
	if err := w.Db.Put(t.ID.String(), t); err != nil {
		return err
	}
	if w.Events != nil {
		e := task.NewEvent(t, t.State)
		if err := w.Events.Put(e.ID.String(), e); err != nil {
			w.logger.Warn("Error storing task event.", "task", t.ID, "err", err)
		}
	}
	return nil
}
