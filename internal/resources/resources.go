package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"stagecoach/internal/config"
	"stagecoach/internal/logging"
	"stagecoach/internal/services"
)

// ErrBreach marks an abort triggered by a mid-run threshold breach. Runs
// interrupted this way settle as aborted but exit with the validation code,
// distinguishing them from operator-initiated aborts.
var ErrBreach = errors.New("resource threshold breached")

// Probe reads host metrics. Tests substitute a fake.
type Probe interface {
	DiskFree(path string) (total, free uint64, err error)
	MemoryAvailable() (uint64, error)
	LoadAverage() (float64, error)
}

// hostProbe reads metrics from the running host.
type hostProbe struct{}

func (hostProbe) DiskFree(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

func (hostProbe) MemoryAvailable() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return (uint64(info.Freeram) + uint64(info.Bufferram)) * uint64(info.Unit), nil
}

func (hostProbe) LoadAverage() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return float64(info.Loads[0]) / 65536.0, nil
}

// Snapshot is one timestamped reading of the host against the configured
// thresholds. Breaches are recorded even when enforcement is off; Passed is
// false only when enforcement is on and at least one threshold is breached.
type Snapshot struct {
	Timestamp       time.Time `json:"ts"`
	WorkingFree     uint64    `json:"working_free_bytes"`
	DestinationFree uint64    `json:"destination_free_bytes,omitempty"`
	AvailableMemory uint64    `json:"available_memory_bytes"`
	LoadAverage     float64   `json:"load_average"`
	Passed          bool      `json:"passed"`
	Breaches        []string  `json:"breaches,omitempty"`
}

// Fields flattens the snapshot for manifest events.
func (s *Snapshot) Fields() map[string]any {
	fields := map[string]any{
		"working_free_bytes":     s.WorkingFree,
		"available_memory_bytes": s.AvailableMemory,
		"load_average":           s.LoadAverage,
		"passed":                 s.Passed,
	}
	if s.DestinationFree > 0 {
		fields["destination_free_bytes"] = s.DestinationFree
	}
	if len(s.Breaches) > 0 {
		fields["breaches"] = strings.Join(s.Breaches, "; ")
	}
	return fields
}

// Monitor samples host capacity and compares it against the configured
// minimums. It gates VALIDATE_ENV and TRANSFER_DATA and runs as a periodic
// background check during RUN_TASK.
type Monitor struct {
	working     string
	destination string
	minWorking  uint64
	minDest     uint64
	minMemory   uint64
	maxLoad     float64
	interval    time.Duration
	enforce     bool
	probe       Probe
	logger      *slog.Logger
}

// NewMonitor builds a monitor from configuration. The destination volume is
// only checked when the transfer stage is enabled.
func NewMonitor(cfg *config.Config, logger *slog.Logger) *Monitor {
	return NewMonitorWithProbe(cfg, logger, nil)
}

// NewMonitorWithProbe allows injecting a custom probe for testing.
func NewMonitorWithProbe(cfg *config.Config, logger *slog.Logger, probe Probe) *Monitor {
	if probe == nil {
		probe = hostProbe{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	const gib = 1 << 30
	m := &Monitor{
		working:    cfg.Paths.DataDir,
		minWorking: uint64(cfg.Resources.MinWorkingFreeGiB) * gib,
		minMemory:  uint64(cfg.Resources.MinAvailableMemoryGiB) * gib,
		maxLoad:    cfg.Resources.MaxLoadAverage,
		interval:   time.Duration(cfg.Resources.SampleIntervalSeconds) * time.Second,
		enforce:    cfg.Resources.Enforce,
		probe:      probe,
		logger:     logging.NewComponentLogger(logger, "resources"),
	}
	if cfg.Stages.TransferData && cfg.Transfer.Destination != "" {
		m.destination = cfg.Transfer.Destination
		m.minDest = uint64(cfg.Resources.MinDestinationFreeGiB) * gib
	}
	return m
}

// Check takes one snapshot. A zero threshold disables that comparison. The
// returned error covers probe failures only; threshold breaches are reported
// through the snapshot.
func (m *Monitor) Check(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot := &Snapshot{Timestamp: time.Now().UTC(), Passed: true}

	_, free, err := m.probe.DiskFree(m.working)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "resources",
			fmt.Sprintf("read free space for %s", m.working), err)
	}
	snapshot.WorkingFree = free
	if m.minWorking > 0 && free < m.minWorking {
		snapshot.Breaches = append(snapshot.Breaches,
			fmt.Sprintf("working volume free space %s below minimum %s", formatGiB(free), formatGiB(m.minWorking)))
	}

	if m.destination != "" {
		_, free, err := m.probe.DiskFree(m.destination)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "", "resources",
				fmt.Sprintf("read free space for %s", m.destination), err)
		}
		snapshot.DestinationFree = free
		if m.minDest > 0 && free < m.minDest {
			snapshot.Breaches = append(snapshot.Breaches,
				fmt.Sprintf("destination volume free space %s below minimum %s", formatGiB(free), formatGiB(m.minDest)))
		}
	}

	memory, err := m.probe.MemoryAvailable()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "resources", "read available memory", err)
	}
	snapshot.AvailableMemory = memory
	if m.minMemory > 0 && memory < m.minMemory {
		snapshot.Breaches = append(snapshot.Breaches,
			fmt.Sprintf("available memory %s below minimum %s", formatGiB(memory), formatGiB(m.minMemory)))
	}

	load, err := m.probe.LoadAverage()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "resources", "read load average", err)
	}
	snapshot.LoadAverage = load
	if m.maxLoad > 0 && load > m.maxLoad {
		snapshot.Breaches = append(snapshot.Breaches,
			fmt.Sprintf("load average %.2f above maximum %.2f", load, m.maxLoad))
	}

	if m.enforce && len(snapshot.Breaches) > 0 {
		snapshot.Passed = false
	}
	return snapshot, nil
}

// Watch samples on the configured interval until ctx is cancelled, invoking
// onBreach once with the first failing snapshot and then stopping. Probe
// errors are logged and sampling continues.
func (m *Monitor) Watch(ctx context.Context, wg *sync.WaitGroup, onBreach func(*Snapshot)) {
	interval := m.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot, err := m.Check(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					m.logger.Warn("resource sample failed", logging.Error(err))
					continue
				}
				if !snapshot.Passed {
					m.logger.Warn("resource threshold breached",
						slog.String("breaches", strings.Join(snapshot.Breaches, "; ")))
					onBreach(snapshot)
					return
				}
			}
		}
	}()
}

func formatGiB(bytes uint64) string {
	return fmt.Sprintf("%.1f GiB", float64(bytes)/(1<<30))
}
