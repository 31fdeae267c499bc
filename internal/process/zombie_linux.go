//go:build linux

package process

import (
	"bytes"
	"os"
	"strconv"
)

// isZombie returns true when /proc/<pid>/status reports state Z. A child
// that exited but has not been reaped yet would otherwise still answer
// signal 0.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
