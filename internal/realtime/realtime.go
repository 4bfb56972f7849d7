// Package realtime prepares the process for the fast control cycle: locked
// memory and a fixed CPU set.
package realtime

// Options selects what Apply changes. The zero value changes nothing.
type Options struct {
	LockMemory bool
	CPUs       []int
}

func (o Options) empty() bool {
	return !o.LockMemory && len(o.CPUs) == 0
}
