package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"sunny/engine"
)

const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"

	StoreMemory     = "memory"
	StorePersistent = "persistent"
)

// Config holds process-wide settings. Values read from a file are merged
// over Default.
type Config struct {
	MinizincExe string `yaml:"minizincExe"`
	Runtime     string `yaml:"runtime"`

	DockerImage  string `yaml:"dockerImage"`
	DockerMemory string `yaml:"dockerMemory"`

	// CatalogFile replaces the built-in engine catalog when set.
	CatalogFile string `yaml:"catalogFile"`

	Scheduler      string   `yaml:"scheduler"`
	Classifier     string   `yaml:"classifier"`
	ClassifierArgs []string `yaml:"classifierArgs"`
	ScheduleFile   string   `yaml:"scheduleFile"`

	SolverArgs map[engine.ID][]string `yaml:"solverArgs"`

	Store   string `yaml:"store"`
	DataDir string `yaml:"dataDir"`

	MemoryEnforcerInterval time.Duration `yaml:"memoryEnforcerInterval"`
	MemoryThreshold        float64       `yaml:"memoryThreshold"`
	StopGracePeriod        time.Duration `yaml:"stopGracePeriod"`

	Verbosity string `yaml:"verbosity"`
}

func Default() Config {
	return Config{
		MinizincExe:            "minizinc",
		Runtime:                RuntimeProcess,
		DockerImage:            "minizinc/minizinc:latest",
		Scheduler:              "proportional",
		Store:                  StoreMemory,
		DataDir:                ".",
		MemoryEnforcerInterval: 3 * time.Second,
		MemoryThreshold:        0.9,
		StopGracePeriod:        2 * time.Second,
		Verbosity:              "warning",
		SolverArgs:             map[engine.ID][]string{},
	}
}

func Parse(r io.Reader) (Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && err != io.EOF {
		return c, fmt.Errorf("decoding config: %w", err)
	}
	if c.SolverArgs == nil {
		c.SolverArgs = map[engine.ID][]string{}
	}
	return c, c.Validate()
}

// Load reads path, or returns Default when path is empty.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	return Parse(f)
}

func (c Config) Validate() error {
	switch c.Runtime {
	case RuntimeProcess, RuntimeDocker:
	default:
		return fmt.Errorf("unknown runtime %q", c.Runtime)
	}
	switch c.Store {
	case StoreMemory, StorePersistent:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.MemoryThreshold <= 0 || c.MemoryThreshold > 1 {
		return fmt.Errorf("memory threshold %v must be in (0, 1]", c.MemoryThreshold)
	}
	if c.MemoryEnforcerInterval < 0 {
		return fmt.Errorf("negative memory enforcer interval")
	}
	if _, err := c.DockerMemoryBytes(); err != nil {
		return err
	}
	return nil
}

// DockerMemoryBytes parses DockerMemory ("4g", "512m"); zero means unlimited.
func (c Config) DockerMemoryBytes() (int64, error) {
	if c.DockerMemory == "" {
		return 0, nil
	}
	b, err := units.RAMInBytes(c.DockerMemory)
	if err != nil {
		return 0, fmt.Errorf("docker memory %q: %w", c.DockerMemory, err)
	}
	return b, nil
}

// Catalog returns the configured engine catalog.
func (c Config) Catalog() (*engine.Catalog, error) {
	if c.CatalogFile == "" {
		return engine.Default(), nil
	}
	return engine.LoadCatalog(c.CatalogFile)
}
