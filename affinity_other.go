//go:build !linux

package fjpool

import "fmt"

func pinCurrentThread([]int) error { return nil }

func validCPU(cpu int) error {
	if cpu < 0 {
		return fmt.Errorf("cpu %d is not valid", cpu)
	}
	return nil
}
