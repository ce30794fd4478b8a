package platform

import (
	"os"
	"strings"
)

// InContainer reports whether this process is running inside a
// container, based on the container-runtime marker file and this
// process's cgroup hierarchy.
func InContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	s := string(data)
	return strings.Contains(s, "docker") ||
		strings.Contains(s, "containerd") ||
		strings.Contains(s, "kubepods")
}
