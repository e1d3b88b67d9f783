package task

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sunny/engine"
)

// Task is one solver engine run on a fixed number of cores.
type Task struct {
	ID          uuid.UUID `json:"id"`
	RunID       uuid.UUID `json:"runId"`
	Name        string    `json:"name"`
	Engine      engine.ID `json:"engine"`
	Cores       int       `json:"cores"`
	Model       string    `json:"model"`
	Data        string    `json:"data,omitempty"`
	State       State     `json:"state"`
	PID         int       `json:"pid,omitempty"`
	ContainerID string    `json:"containerId,omitempty"`
	ExitCode    int       `json:"exitCode"`
	Error       string    `json:"error,omitempty"`
	StartTime   time.Time `json:"startTime"`
	FinishTime  time.Time `json:"finishTime"`
}

func New(runID uuid.UUID, e engine.ID, cores int, model, data string) *Task {
	id := uuid.New()
	return &Task{
		ID:     id,
		RunID:  runID,
		Name:   fmt.Sprintf("sunny-%s-%s", sanitize(string(e)), id.String()[:8]),
		Engine: e,
		Cores:  cores,
		Model:  model,
		Data:   data,
		State:  Pending,
	}
}

type TaskEvent struct {
	ID        uuid.UUID `json:"id"`
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Task      Task      `json:"task"`
}

func NewEvent(t Task, s State) TaskEvent {
	return TaskEvent{ID: uuid.New(), State: s, Timestamp: time.Now().UTC(), Task: t}
}

// Config is the launch description of a task, shared by all runtimes.
type Config struct {
	Name   string
	Cmd    []string
	Cpu    float64
	Memory int64
	Env    []string
	Image  string
}

// NewConfig builds `exe --solver <engine> <model> [data] [args...] -p <cores>`.
func NewConfig(t *Task, exe string, args []string) Config {
	cmd := []string{exe, "--solver", string(t.Engine), t.Model}
	if t.Data != "" {
		cmd = append(cmd, t.Data)
	}
	cmd = append(cmd, args...)
	cmd = append(cmd, "-p", strconv.Itoa(t.Cores))

	return Config{
		Name: t.Name,
		Cmd:  cmd,
		Cpu:  float64(t.Cores),
	}
}

type Result struct {
	Error    error
	Action   string
	ID       string
	Result   string
	ExitCode int
}

// Runtime starts and stops solver tasks. Start returns once the task is
// running; Wait blocks until it exits.
type Runtime interface {
	Start(ctx context.Context, t *Task) Result
	Wait(ctx context.Context, t *Task) Result
	Stop(ctx context.Context, t *Task) Result
}

func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			b[i] = '-'
		}
	}
	return string(b)
}
