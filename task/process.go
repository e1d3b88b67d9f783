package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"sunny/engine"
)

var _ Runtime = &Process{}

// Process runs each task as a local process group.
type Process struct {
	Exe         string
	SolverArgs  map[engine.ID][]string
	GracePeriod time.Duration
	Output      io.Writer

	mu     sync.Mutex
	outMu  sync.Mutex
	procs  map[uuid.UUID]*proc
	logger *slog.Logger
}

type proc struct {
	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	exitCode int
}

func NewProcess(exe string, solverArgs map[engine.ID][]string, grace time.Duration) *Process {
	return &Process{
		Exe:         exe,
		SolverArgs:  solverArgs,
		GracePeriod: grace,
		Output:      os.Stdout,
		procs:       make(map[uuid.UUID]*proc),
		logger:      slog.Default().With("component", "runtime", "runtime", "process"),
	}
}

func (p *Process) Start(_ context.Context, t *Task) Result {
	args, ok := p.SolverArgs[t.Engine]
	if !ok {
		p.logger.Debug("Solver does not have an arguments configuration.", "engine", t.Engine)
	}
	config := NewConfig(t, p.Exe, args)

	// The solver outlives the request that started it, so no CommandContext.
	cmd := exec.Command(config.Cmd[0], config.Cmd[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second
	stdout := &lineWriter{mu: &p.outMu, w: p.Output}
	cmd.Stdout = stdout
	cmd.Stderr = &logWriter{logger: p.logger.With("engine", t.Engine)}

	if err := cmd.Start(); err != nil {
		p.logger.Error("Error starting solver.", "engine", t.Engine, "err", err)
		return Result{Error: err, Action: "start"}
	}

	pr := &proc{cmd: cmd, done: make(chan struct{})}
	p.mu.Lock()
	p.procs[t.ID] = pr
	p.mu.Unlock()

	go func() {
		pr.err = cmd.Wait()
		pr.exitCode = cmd.ProcessState.ExitCode()
		stdout.Flush()
		close(pr.done)
	}()

	t.PID = cmd.Process.Pid
	p.logger.Info("Started solver.", "engine", t.Engine, "cores", t.Cores, "pid", t.PID)
	return Result{Action: "start", ID: fmt.Sprint(t.PID), Result: "success"}
}

func (p *Process) Wait(ctx context.Context, t *Task) Result {
	pr := p.get(t.ID)
	if pr == nil {
		return Result{Error: fmt.Errorf("task %s is not running", t.ID), Action: "wait"}
	}

	select {
	case <-pr.done:
	case <-ctx.Done():
		return Result{Error: ctx.Err(), Action: "wait"}
	}

	p.forget(t.ID)
	res := Result{Action: "wait", ID: fmt.Sprint(t.PID), ExitCode: pr.exitCode, Result: "exited"}
	var exitErr *exec.ExitError
	if pr.err != nil && !errors.As(pr.err, &exitErr) {
		res.Error = pr.err
	} else if pr.exitCode != 0 {
		res.Error = fmt.Errorf("solver %s exited with status %d", t.Engine, pr.exitCode)
	}
	return res
}

// Stop terminates the whole process group: SIGTERM (plus SIGCONT for a
// suspended group), then SIGKILL once the grace period runs out.
func (p *Process) Stop(ctx context.Context, t *Task) Result {
	pr := p.get(t.ID)
	if pr == nil {
		return Result{Action: "stop", Result: "not running"}
	}

	pgid := -pr.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	_ = syscall.Kill(pgid, syscall.SIGCONT)

	timer := time.NewTimer(p.GracePeriod)
	defer timer.Stop()
	select {
	case <-pr.done:
	case <-timer.C:
		p.logger.Warn("Solver ignored SIGTERM, killing.", "engine", t.Engine, "pid", pr.cmd.Process.Pid)
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		select {
		case <-pr.done:
		case <-ctx.Done():
			return Result{Error: ctx.Err(), Action: "stop"}
		}
	case <-ctx.Done():
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return Result{Error: ctx.Err(), Action: "stop"}
	}

	p.forget(t.ID)
	return Result{Action: "stop", ID: fmt.Sprint(pr.cmd.Process.Pid), Result: "success", ExitCode: pr.exitCode}
}

func (p *Process) get(id uuid.UUID) *proc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.procs[id]
}

func (p *Process) forget(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.procs, id)
}

// lineWriter forwards whole lines so output of concurrent solvers does not
// interleave mid-line.
type lineWriter struct {
	mu  *sync.Mutex
	w   io.Writer
	buf []byte
}

func (l *lineWriter) Write(b []byte) (int, error) {
	l.buf = append(l.buf, b...)
	i := bytes.LastIndexByte(l.buf, '\n')
	if i < 0 {
		return len(b), nil
	}

	l.mu.Lock()
	_, err := l.w.Write(l.buf[:i+1])
	l.mu.Unlock()
	l.buf = append(l.buf[:0], l.buf[i+1:]...)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Flush writes a trailing line that was not newline terminated.
func (l *lineWriter) Flush() {
	if len(l.buf) == 0 {
		return
	}
	l.mu.Lock()
	_, _ = l.w.Write(append(l.buf, '\n'))
	l.mu.Unlock()
	l.buf = l.buf[:0]
}

type logWriter struct {
	logger *slog.Logger
	buf    []byte
}

func (l *logWriter) Write(b []byte) (int, error) {
	l.buf = append(l.buf, b...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.logger.Warn("Solver stderr.", "line", string(l.buf[:i]))
		l.buf = l.buf[i+1:]
	}
	return len(b), nil
}
