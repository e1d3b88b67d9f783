package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/c9s/goprocinfo/linux"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunny/engine"
	"sunny/portfolio"
	"sunny/store"
	"sunny/task"
)

type fakeRuntime struct {
	mu      sync.Mutex
	started []task.Task
	stopped []uuid.UUID
	exits   map[uuid.UUID]chan int
	failFor engine.ID
	nextPID int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{exits: map[uuid.UUID]chan int{}, nextPID: 100}
}

func (f *fakeRuntime) Start(_ context.Context, t *task.Task) task.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.Engine == f.failFor {
		return task.Result{Error: errors.New("no such solver"), Action: "start"}
	}
	f.nextPID++
	t.PID = f.nextPID
	f.exits[t.ID] = make(chan int, 1)
	f.started = append(f.started, *t)
	return task.Result{Action: "start", Result: "success"}
}

func (f *fakeRuntime) Wait(ctx context.Context, t *task.Task) task.Result {
	f.mu.Lock()
	ch := f.exits[t.ID]
	f.mu.Unlock()
	select {
	case code := <-ch:
		res := task.Result{Action: "wait", ExitCode: code}
		if code != 0 {
			res.Error = errors.New("exited")
		}
		return res
	case <-ctx.Done():
		return task.Result{Error: ctx.Err()}
	}
}

func (f *fakeRuntime) Stop(_ context.Context, t *task.Task) task.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, t.ID)
	select {
	case f.exits[t.ID] <- 143:
	default:
	}
	return task.Result{Action: "stop", Result: "success"}
}

func (f *fakeRuntime) exit(id uuid.UUID, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case f.exits[id] <- code:
	default:
	}
}

func newTestWorker(rt task.Runtime) *Worker {
	w := New("test", store.NewMemoryStore[task.Task](), rt)
	w.Events = store.NewMemoryStore[task.TaskEvent]()
	return w
}

func waitAll(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
}

func stateOf(t *testing.T, w *Worker, id uuid.UUID) task.State {
	t.Helper()
	tk, err := w.Db.Get(id.String())
	require.NoError(t, err)
	return tk.State
}

func TestLaunchPortfolio(t *testing.T) {
	rt := newFakeRuntime()
	w := newTestWorker(rt)

	p := portfolio.Portfolio{
		{Engine: engine.Choco, Cores: 4},
		{Engine: engine.CPSat, Cores: 8},
		{Engine: engine.Gecode, Cores: 0},
	}
	tasks, err := w.Launch(context.Background(), uuid.New(), p, "m.mzn", "", 12)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Len(t, w.Running(), 2)

	assert.Zero(t, w.Queue.Len(), "launch starts tasks without the shared queue")
	for _, tk := range tasks {
		assert.Equal(t, task.Running, tk.State)
		assert.NotZero(t, tk.PID)
		assert.Equal(t, task.Running, stateOf(t, w, tk.ID))
	}
	assert.NotEqual(t, tasks[0].PID, tasks[1].PID)

	rt.exit(tasks[0].ID, 0)
	rt.exit(tasks[1].ID, 1)
	waitAll(t, w)

	assert.Equal(t, task.Completed, stateOf(t, w, tasks[0].ID))
	assert.Equal(t, task.Failed, stateOf(t, w, tasks[1].ID))
	assert.Empty(t, w.Running())
	assert.Len(t, w.GetTasks(), 2)

	count, err := w.Events.Count()
	require.NoError(t, err)
	assert.Equal(t, 6, count, "scheduled, running and exit event per task")
}

func TestLaunchEmptyPortfolioUsesBackup(t *testing.T) {
	rt := newFakeRuntime()
	w := newTestWorker(rt)

	tasks, err := w.Launch(context.Background(), uuid.New(), nil, "m.mzn", "", 6)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, engine.Gecode, tasks[0].Engine)
	assert.Equal(t, 6, tasks[0].Cores)

	w.Backup = engine.Choco
	tasks, err = w.Launch(context.Background(), uuid.New(), portfolio.Portfolio{{Engine: engine.CPSat, Cores: 0}}, "m.mzn", "", 2)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, engine.Choco, tasks[0].Engine)

	require.NoError(t, w.StopAll(context.Background()))
	waitAll(t, w)
}

func TestLaunchStartFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.failFor = engine.Huub
	w := newTestWorker(rt)

	p := portfolio.Portfolio{{Engine: engine.Huub, Cores: 2}, {Engine: engine.Gecode, Cores: 1}}
	tasks, err := w.Launch(context.Background(), uuid.New(), p, "m.mzn", "", 3)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNothingStarted)
	require.Len(t, tasks, 2)

	assert.Equal(t, task.Failed, tasks[0].State)
	assert.Zero(t, tasks[0].PID)
	assert.Equal(t, task.Running, tasks[1].State)
	assert.NotZero(t, tasks[1].PID)

	failed, err := w.Db.Get(tasks[0].ID.String())
	require.NoError(t, err)
	assert.Equal(t, task.Failed, failed.State)
	assert.Equal(t, "no such solver", failed.Error)
	assert.Equal(t, task.Running, stateOf(t, w, tasks[1].ID))

	require.NoError(t, w.StopAll(context.Background()))
	waitAll(t, w)
}

func TestLaunchNothingStarted(t *testing.T) {
	rt := newFakeRuntime()
	rt.failFor = engine.Picat
	w := newTestWorker(rt)

	tasks, err := w.Launch(context.Background(), uuid.New(), portfolio.Portfolio{{Engine: engine.Picat, Cores: 4}}, "m.mzn", "", 4)
	assert.ErrorIs(t, err, ErrNothingStarted)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.Failed, tasks[0].State)
	assert.Empty(t, w.Running())
}

func TestStopTask(t *testing.T) {
	rt := newFakeRuntime()
	w := newTestWorker(rt)

	tasks, err := w.Launch(context.Background(), uuid.New(), portfolio.Portfolio{{Engine: engine.Chuffed, Cores: 1}}, "m.mzn", "", 1)
	require.NoError(t, err)

	res := w.StopTask(context.Background(), tasks[0].ID)
	require.NoError(t, res.Error)
	waitAll(t, w)

	tk, err := w.Db.Get(tasks[0].ID.String())
	require.NoError(t, err)
	assert.Equal(t, task.Stopped, tk.State)
	assert.Equal(t, 143, tk.ExitCode)

	res = w.StopTask(context.Background(), tasks[0].ID)
	assert.Equal(t, "not running", res.Result)

	res = w.StopTask(context.Background(), uuid.New())
	assert.ErrorIs(t, res.Error, store.ErrNotFound)
}

func TestRunTaskRejectsInvalidTransition(t *testing.T) {
	w := newTestWorker(newFakeRuntime())

	tk := task.New(uuid.New(), engine.Gecode, 1, "m.mzn", "")
	tk.State = task.Completed
	require.NoError(t, w.Db.Put(tk.ID.String(), *tk))

	tk.State = task.Scheduled
	w.AddTask(*tk)
	res, ok := w.runTask(context.Background())
	require.True(t, ok)
	assert.Error(t, res.Error)

	_, ok = w.runTask(context.Background())
	assert.False(t, ok)
}

func fakeStats(used float64) func() *Stats {
	return func() *Stats {
		return &Stats{
			MemStats:  &linux.MemInfo{MemTotal: 1000, MemAvailable: uint64(1000 * (1 - used))},
			CpuStats:  &linux.CPUStat{},
			LoadStats: &linux.LoadAvg{},
		}
	}
}

func TestEnforceMemoryStopsHeaviest(t *testing.T) {
	rt := newFakeRuntime()
	w := newTestWorker(rt)
	w.MemoryThreshold = 0.5

	p := portfolio.Portfolio{
		{Engine: engine.Choco, Cores: 1},
		{Engine: engine.CPSat, Cores: 8},
		{Engine: engine.Gecode, Cores: 1},
	}
	tasks, err := w.Launch(context.Background(), uuid.New(), p, "m.mzn", "", 10)
	require.NoError(t, err)

	rss := map[int]uint64{tasks[0].PID: 500, tasks[1].PID: 100, tasks[2].PID: 50}
	w.resident = func(pid int) uint64 { return rss[pid] }

	w.readStats = fakeStats(0.4)
	assert.False(t, w.enforceOnce(context.Background()))
	assert.Equal(t, 3, w.Stats.TaskCount)

	w.readStats = fakeStats(0.8)
	assert.True(t, w.enforceOnce(context.Background()))
	assert.Equal(t, []uuid.UUID{tasks[0].ID}, rt.stopped)

	require.NoError(t, w.StopAll(context.Background()))
	waitAll(t, w)
	assert.False(t, w.enforceOnce(context.Background()), "nothing left to stop")
}

func TestHeaviestFallsBackToCores(t *testing.T) {
	w := newTestWorker(newFakeRuntime())
	w.resident = func(int) uint64 { return 0 }

	_, ok := w.heaviest()
	assert.False(t, ok)

	p := portfolio.Portfolio{{Engine: engine.Choco, Cores: 2}, {Engine: engine.CPSat, Cores: 8}}
	_, err := w.Launch(context.Background(), uuid.New(), p, "m.mzn", "", 10)
	require.NoError(t, err)

	victim, ok := w.heaviest()
	require.True(t, ok)
	assert.Equal(t, engine.CPSat, victim.Engine)

	require.NoError(t, w.StopAll(context.Background()))
	waitAll(t, w)
}

func TestRunTasksDrainsQueue(t *testing.T) {
	rt := newFakeRuntime()
	w := newTestWorker(rt)

	tk := task.New(uuid.New(), engine.Picat, 2, "m.mzn", "d.dzn")
	tk.State = task.Scheduled
	w.AddTask(*tk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.RunTasks(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := w.Db.Get(tk.ID.String())
		return err == nil && got.State == task.Running
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	require.NoError(t, w.StopAll(context.Background()))
	waitAll(t, w)
	assert.Equal(t, task.Stopped, stateOf(t, w, tk.ID))
}
