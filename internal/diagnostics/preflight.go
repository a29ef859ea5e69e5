// Package diagnostics probes host resources before agent subprocesses
// spawn, so an exhausted machine fails fast instead of mid-iteration.
package diagnostics

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// Resource floors below which spawning is refused.
const (
	DefaultMinFreeMemoryMB = 512
	DefaultMinFreeDiskMB   = 1024
)

// Preflight checks memory and disk headroom for the project path.
type Preflight struct {
	projectDir      string
	minFreeMemoryMB uint64
	minFreeDiskMB   uint64
	logger          *logging.Logger
}

// Option customises a Preflight.
type Option func(*Preflight)

// WithMemoryFloor overrides the minimum free memory in MB.
func WithMemoryFloor(mb uint64) Option {
	return func(p *Preflight) { p.minFreeMemoryMB = mb }
}

// WithDiskFloor overrides the minimum free disk in MB.
func WithDiskFloor(mb uint64) Option {
	return func(p *Preflight) { p.minFreeDiskMB = mb }
}

// New creates a preflight checker for a project directory.
func New(projectDir string, logger *logging.Logger, opts ...Option) *Preflight {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Preflight{
		projectDir:      projectDir,
		minFreeMemoryMB: DefaultMinFreeMemoryMB,
		minFreeDiskMB:   DefaultMinFreeDiskMB,
		logger:          logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Check verifies free memory and disk meet the floors. Probe failures
// are logged and ignored: a broken probe must not block the workflow.
func (p *Preflight) Check() error {
	if vm, err := mem.VirtualMemory(); err != nil {
		p.logger.Warn("memory probe failed", "error", err)
	} else if free := vm.Available / (1 << 20); free < p.minFreeMemoryMB {
		return fmt.Errorf("insufficient memory: %d MB free, %d MB required", free, p.minFreeMemoryMB)
	}

	if du, err := disk.Usage(p.projectDir); err != nil {
		p.logger.Warn("disk probe failed", "error", err)
	} else if free := du.Free / (1 << 20); free < p.minFreeDiskMB {
		return fmt.Errorf("insufficient disk: %d MB free, %d MB required", free, p.minFreeDiskMB)
	}

	return nil
}
