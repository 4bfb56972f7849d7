//go:build !linux

package realtime

import "fmt"

func Apply(o Options) error {
	if o.empty() {
		return nil
	}
	return fmt.Errorf("realtime: memory locking and cpu affinity unsupported on this platform")
}

func Allowed() ([]int, error) {
	return nil, fmt.Errorf("realtime: cpu affinity unsupported on this platform")
}
