package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"sunny/engine"
)

var _ Runtime = &Docker{}

// Docker runs each task in its own container with a CPU quota equal to the
// task's cores.
type Docker struct {
	Client     *client.Client
	Image      string
	Exe        string
	Memory     int64
	SolverArgs map[engine.ID][]string
	Output     io.Writer

	mu     sync.Mutex
	pulled bool
	logger *slog.Logger
}

func NewDocker(image string, memory int64, solverArgs map[engine.ID][]string) (*Docker, error) {
	dc, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	return &Docker{
		Client:     dc,
		Image:      image,
		Exe:        "minizinc",
		Memory:     memory,
		SolverArgs: solverArgs,
		Output:     os.Stdout,
		logger:     slog.Default().With("component", "runtime", "runtime", "docker"),
	}, nil
}

func (d *Docker) config(t *Task) Config {
	c := NewConfig(t, d.Exe, d.SolverArgs[t.Engine])
	c.Image = d.Image
	c.Memory = d.Memory
	return c
}

// containerSpec mounts the model and data directories read-only at the same
// paths so the solver command line works unchanged inside the container.
func containerSpec(c Config, t *Task) (*container.Config, *container.HostConfig) {
	cc := &container.Config{
		Image: c.Image,
		Cmd:   c.Cmd,
		Env:   c.Env,
		Tty:   false,
	}

	var binds []string
	seen := map[string]bool{}
	for _, f := range []string{t.Model, t.Data} {
		if f == "" {
			continue
		}
		dir, err := filepath.Abs(filepath.Dir(f))
		if err != nil || seen[dir] {
			continue
		}
		seen[dir] = true
		binds = append(binds, dir+":"+dir+":ro")
	}

	hc := &container.HostConfig{
		Binds: binds,
		Resources: container.Resources{
			Memory:   c.Memory,
			NanoCPUs: int64(c.Cpu * math.Pow(10, 9)),
		},
	}
	return cc, hc
}

func (d *Docker) pull(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pulled {
		return nil
	}

	reader, err := d.Client.ImagePull(ctx, d.Image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}
	d.pulled = true
	return nil
}

func (d *Docker) Start(ctx context.Context, t *Task) Result {
	if err := d.pull(ctx); err != nil {
		d.logger.Error("Error pulling image.", "image", d.Image, "err", err)
		return Result{Error: err, Action: "start"}
	}

	cc, hc := containerSpec(d.config(t), t)
	resp, err := d.Client.ContainerCreate(ctx, cc, hc, nil, nil, t.Name)
	if err != nil {
		d.logger.Error("Error creating container.", "engine", t.Engine, "err", err)
		return Result{Error: err, Action: "start"}
	}

	if err := d.Client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.logger.Error("Error starting container.", "engine", t.Engine, "err", err)
		d.remove(resp.ID)
		return Result{Error: err, Action: "start"}
	}
	t.ContainerID = resp.ID

	out, err := d.Client.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		d.logger.Warn("Error attaching to container logs.", "container", resp.ID, "err", err)
	} else {
		go func() {
			defer out.Close()
			_, _ = stdcopy.StdCopy(d.Output, &logWriter{logger: d.logger.With("engine", t.Engine)}, out)
		}()
	}

	d.logger.Info("Started solver container.", "engine", t.Engine, "cores", t.Cores, "container", resp.ID)
	return Result{ID: resp.ID, Action: "start", Result: "success"}
}

// Wait blocks until the container exits and then removes it.
func (d *Docker) Wait(ctx context.Context, t *Task) Result {
	statusCh, errCh := d.Client.ContainerWait(ctx, t.ContainerID, container.WaitConditionNotRunning)

	var res Result
	select {
	case err := <-errCh:
		return Result{Error: err, Action: "wait", ID: t.ContainerID}
	case status := <-statusCh:
		res = Result{Action: "wait", ID: t.ContainerID, ExitCode: int(status.StatusCode), Result: "exited"}
		if status.StatusCode != 0 {
			res.Error = fmt.Errorf("solver %s exited with status %d", t.Engine, status.StatusCode)
		}
	}

	d.remove(t.ContainerID)
	return res
}

func (d *Docker) remove(id string) {
	err := d.Client.ContainerRemove(context.Background(), id, container.RemoveOptions{
		RemoveVolumes: true,
		RemoveLinks:   false,
		Force:         true,
	})
	if err != nil {
		d.logger.Error("Error removing container.", "container", id, "err", err)
	}
}

func (d *Docker) Stop(ctx context.Context, t *Task) Result {
	if t.ContainerID == "" {
		return Result{Action: "stop", Result: "not running"}
	}

	d.logger.Info("Stopping container.", "container", t.ContainerID)
	timeout := 2
	if err := d.Client.ContainerStop(ctx, t.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		d.logger.Error("Error stopping container.", "container", t.ContainerID, "err", err)
		return Result{Error: err, Action: "stop"}
	}

	return Result{Action: "stop", ID: t.ContainerID, Result: "success"}
}
