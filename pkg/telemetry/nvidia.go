package telemetry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVMLSource reads NVIDIA GPU telemetry through NVML.
type NVMLSource struct {
	mu      sync.Mutex
	devices []nvml.Device
	names   []string
	closed  bool
}

// NewNVMLSource initializes NVML and enumerates devices. It returns
// ErrSourceUnavailable when the driver is missing or no devices are present.
func NewNVMLSource() (*NVMLSource, error) {
	if ret := nvml.Init(); !errors.Is(ret, nvml.SUCCESS) {
		return nil, fmt.Errorf("%w: failed to initialize NVML: %s", ErrSourceUnavailable, nvml.ErrorString(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if !errors.Is(ret, nvml.SUCCESS) || count == 0 {
		nvml.Shutdown()
		return nil, fmt.Errorf("%w: no NVIDIA devices found", ErrSourceUnavailable)
	}

	s := &NVMLSource{
		devices: make([]nvml.Device, count),
		names:   make([]string, count),
	}
	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if !errors.Is(ret, nvml.SUCCESS) {
			continue
		}
		s.devices[i] = device
		if name, ret := device.GetName(); errors.Is(ret, nvml.SUCCESS) {
			s.names[i] = name
		}
	}
	return s, nil
}

func (s *NVMLSource) Name() string { return "nvml" }

func (s *NVMLSource) DeviceCount() int {
	return len(s.devices)
}

// ReadDevice samples one GPU. Memory is mandatory; utilization, temperature
// and power are best effort and left zero when the device does not report them.
func (s *NVMLSource) ReadDevice(index int) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Reading{}, fmt.Errorf("nvml source closed")
	}
	if index < 0 || index >= len(s.devices) || s.devices[index] == nil {
		return Reading{}, fmt.Errorf("no handle for device %d", index)
	}
	device := s.devices[index]

	r := Reading{Device: index, Name: s.names[index]}

	mem, ret := device.GetMemoryInfo()
	if !errors.Is(ret, nvml.SUCCESS) {
		return Reading{}, fmt.Errorf("memory info for device %d: %s", index, nvml.ErrorString(ret))
	}
	r.MemoryUsedBytes = mem.Used
	r.MemoryTotalBytes = mem.Total

	if util, ret := device.GetUtilizationRates(); errors.Is(ret, nvml.SUCCESS) {
		r.UtilizationPercent = float64(util.Gpu)
	}
	if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); errors.Is(ret, nvml.SUCCESS) {
		r.TemperatureC = float64(temp)
	}
	if power, ret := device.GetPowerUsage(); errors.Is(ret, nvml.SUCCESS) {
		r.PowerW = float64(power) / 1000.0 // mW to W
	}

	return r, nil
}

// Close releases NVML resources.
func (s *NVMLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		nvml.Shutdown()
		s.closed = true
	}
	return nil
}
