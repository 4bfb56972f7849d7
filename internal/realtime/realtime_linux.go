//go:build linux

package realtime

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Apply locks current and future pages into RAM and pins every thread of the
// process to o.CPUs. Threads created later inherit the mask.
func Apply(o Options) error {
	if o.empty() {
		return nil
	}
	if o.LockMemory {
		if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
			return fmt.Errorf("realtime: mlockall: %w", err)
		}
	}
	if len(o.CPUs) == 0 {
		return nil
	}
	set, err := cpuSet(o.CPUs)
	if err != nil {
		return err
	}
	tids, err := threadIDs()
	if err != nil {
		return err
	}
	for _, tid := range tids {
		err := unix.SchedSetaffinity(tid, &set)
		if errors.Is(err, unix.ESRCH) {
			// Thread exited since the listing.
			continue
		}
		if err != nil {
			return fmt.Errorf("realtime: set affinity tid=%d: %w", tid, err)
		}
	}
	return nil
}

// maxCPUs is the kernel's CPU_SETSIZE.
const maxCPUs = 1024

func cpuSet(cpus []int) (unix.CPUSet, error) {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		if cpu < 0 || cpu >= maxCPUs {
			return set, fmt.Errorf("realtime: cpu %d out of range [0,%d)", cpu, maxCPUs)
		}
		set.Set(cpu)
	}
	return set, nil
}

func threadIDs() ([]int, error) {
	entries, err := os.ReadDir("/proc/self/task")
	if err != nil {
		return nil, fmt.Errorf("realtime: list threads: %w", err)
	}
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		out = append(out, tid)
	}
	return out, nil
}

// Allowed returns the CPUs the calling thread may run on.
func Allowed() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("realtime: get affinity: %w", err)
	}
	var out []int
	for cpu := 0; cpu < maxCPUs; cpu++ {
		if set.IsSet(cpu) {
			out = append(out, cpu)
		}
	}
	return out, nil
}
