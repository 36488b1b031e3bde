package telemetry

import (
	"fmt"
	"path/filepath"
	"strings"

	"InferenceGovernor/pkg/probing"
)

// HostPaths locates the kernel interfaces read by HostSource.
type HostPaths struct {
	Meminfo     string
	ThermalGlob string
}

// DefaultHostPaths returns the standard Linux procfs and sysfs locations.
func DefaultHostPaths() HostPaths {
	return HostPaths{
		Meminfo:     "/proc/meminfo",
		ThermalGlob: "/sys/class/thermal/thermal_zone*/temp",
	}
}

// HostSource reports host memory and the hottest thermal zone as device 0.
// It covers unified-memory boards where the accelerator shares system RAM
// and NVML is not present.
type HostSource struct {
	paths HostPaths
}

// NewHostSource verifies that memory can be read through procfs or sysinfo.
func NewHostSource(paths HostPaths) (*HostSource, error) {
	s := &HostSource{paths: paths}
	if _, _, err := s.memory(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return s, nil
}

func (s *HostSource) Name() string { return "host" }

func (s *HostSource) DeviceCount() int { return 1 }

func (s *HostSource) ReadDevice(index int) (Reading, error) {
	if index != 0 {
		return Reading{}, fmt.Errorf("device %d out of range", index)
	}

	used, total, err := s.memory()
	if err != nil {
		return Reading{}, err
	}

	return Reading{
		Device:           0,
		Name:             "host",
		MemoryUsedBytes:  used,
		MemoryTotalBytes: total,
		TemperatureC:     s.temperature(),
	}, nil
}

func (s *HostSource) Close() error { return nil }

func (s *HostSource) memory() (used, total uint64, err error) {
	if s.paths.Meminfo != "" {
		if used, total, err = readMeminfo(s.paths.Meminfo); err == nil {
			return used, total, nil
		}
	}
	return sysinfoMemory()
}

// readMeminfo parses MemTotal and MemAvailable (kB) from a meminfo file.
func readMeminfo(path string) (used, total uint64, err error) {
	kv, err := probing.FileKV(path, ":")
	if err != nil {
		return 0, 0, err
	}

	totalKB, err := probing.ParseInt64(strings.TrimSuffix(kv["MemTotal"], " kB"))
	if err != nil {
		return 0, 0, fmt.Errorf("MemTotal: %w", err)
	}
	availKB, err := probing.ParseInt64(strings.TrimSuffix(kv["MemAvailable"], " kB"))
	if err != nil {
		return 0, 0, fmt.Errorf("MemAvailable: %w", err)
	}
	if totalKB <= 0 || availKB > totalKB {
		return 0, 0, fmt.Errorf("implausible meminfo: total=%d available=%d", totalKB, availKB)
	}

	total = uint64(totalKB) * 1024
	used = total - uint64(availKB)*1024
	return used, total, nil
}

// temperature returns the hottest thermal zone in °C, or 0 if none are readable.
func (s *HostSource) temperature() float64 {
	if s.paths.ThermalGlob == "" {
		return 0
	}
	zones, err := filepath.Glob(s.paths.ThermalGlob)
	if err != nil {
		return 0
	}

	var hottest float64
	for _, zone := range zones {
		milli, err := probing.FileInt(zone)
		if err != nil {
			continue
		}
		if c := float64(milli) / 1000.0; c > hottest {
			hottest = c
		}
	}
	return hottest
}
