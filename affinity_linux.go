//go:build linux

package fjpool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pinCurrentThread restricts the calling OS thread to cpus. The caller
// must hold runtime.LockOSThread.
func pinCurrentThread(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity %v: %w", cpus, err)
	}
	return nil
}

func validCPU(cpu int) error {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_getaffinity: %w", err)
	}
	if cpu < 0 || !set.IsSet(cpu) {
		return fmt.Errorf("cpu %d is not available to this process", cpu)
	}
	return nil
}
