package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/mpc5643l-rtos/internal/kernel/process"
	"github.com/tinyrange/mpc5643l-rtos/internal/pal"
)

// YAMLConfig is the declarative front door for building non-trivial
// kernel configurations without Go source.
type YAMLConfig struct {
	SyscallCount int           `yaml:"syscall_count"`
	Shared       YAMLRegion    `yaml:"shared_region"`
	Processes    []YAMLProcess `yaml:"processes"`
	Events       []YAMLEvent   `yaml:"events"`
}

// YAMLRegion describes one memory window in the declarative format.
type YAMLRegion struct {
	Name     string `yaml:"name"`
	Base     uint64 `yaml:"base"`
	Size     uint64 `yaml:"size"`
	Writable bool   `yaml:"writable"`
}

func (r YAMLRegion) toRegion() pal.Region {
	return pal.Region{Name: r.Name, Base: uintptr(r.Base), Size: uintptr(r.Size), Writable: r.Writable}
}

func processPermissions(yp YAMLProcess) process.Permissions {
	return process.Permissions{
		IOAccess:        yp.IOAccess,
		SupervisorWrite: yp.SupervisorWrite,
		MaySuspendOther: yp.MaySuspendOther,
	}
}

// YAMLProcess describes one process entry.
type YAMLProcess struct {
	PID             int          `yaml:"pid"`
	Stack           YAMLRegion   `yaml:"stack"`
	Regions         []YAMLRegion `yaml:"regions"`
	IOAccess        bool         `yaml:"io_access"`
	SupervisorWrite bool         `yaml:"supervisor_write"`
	MaySuspendOther bool         `yaml:"may_suspend_other"`
}

// YAMLEvent describes one event entry. Tasks are bound separately in Go
// code after loading, since an Entry is a function value that cannot be
// expressed in YAML; LoadYAML only creates the events and processes and
// sizes the syscall table. It registers no interrupt handlers or syscalls.
type YAMLEvent struct {
	Period       uint32 `yaml:"period_ticks"`
	FirstOffset  uint32 `yaml:"first_offset_ticks"`
	Priority     uint8  `yaml:"priority"`
	MinPrivilege int    `yaml:"min_privilege"`
	TaskSlots    int    `yaml:"task_slots"`
}

// LoadYAML parses path into a YAMLConfig and applies it to a fresh
// Builder, returning the builder (for subsequent task/syscall
// registration in Go), the resulting event ids in declaration order, and
// every declared memory region so the caller can back them with a
// pal/simpal.Bus.
func LoadYAML(path string) (*Builder, []int, []pal.Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return ApplyYAML(&cfg)
}

// ApplyYAML builds a Builder from an already-parsed YAMLConfig; split out
// from LoadYAML so tests and embedded configs can skip the filesystem.
func ApplyYAML(cfg *YAMLConfig) (*Builder, []int, []pal.Region, error) {
	if cfg.SyscallCount < 1 {
		cfg.SyscallCount = 1
	}
	b, err := NewBuilder(cfg.SyscallCount, cfg.Shared.toRegion())
	if err != nil {
		return nil, nil, nil, err
	}

	regionList := []pal.Region{cfg.Shared.toRegion()}

	for _, yp := range cfg.Processes {
		regions := make([]pal.Region, len(yp.Regions))
		for i, r := range yp.Regions {
			regions[i] = r.toRegion()
		}
		perms := processPermissions(yp)
		if err := b.RegisterProcess(yp.PID, yp.Stack.toRegion(), regions, perms); err != nil {
			return nil, nil, nil, fmt.Errorf("config: process %d: %w", yp.PID, err)
		}
		regionList = append(regionList, yp.Stack.toRegion())
		regionList = append(regionList, regions...)
	}

	ids := make([]int, 0, len(cfg.Events))
	for _, ye := range cfg.Events {
		id, err := b.CreateEvent(ye.Period, ye.FirstOffset, ye.Priority, ye.MinPrivilege)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("config: event: %w", err)
		}
		if ye.TaskSlots > 0 {
			b.DeclareTaskSlots(id, ye.TaskSlots)
		}
		ids = append(ids, id)
	}

	return b, ids, regionList, nil
}
