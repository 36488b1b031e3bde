//go:build !linux

package telemetry

import "errors"

func sysinfoMemory() (used, total uint64, err error) {
	return 0, 0, errors.New("sysinfo not supported on this platform")
}
