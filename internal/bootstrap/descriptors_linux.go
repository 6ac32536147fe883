//go:build linux

package bootstrap

import (
	"os"

	"golang.org/x/sys/unix"
)

// DescriptorIsOpen reports whether fd is a valid open descriptor, the way
// the original enclave's isopenfd probes with fcntl(F_GETFD).
func DescriptorIsOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// OpenDescriptorCount counts entries under /proc/self/fd, standing in for
// the original's getdtablecount (which walks the process' descriptor
// table directly). The descriptor ReadDir holds open on the directory
// while listing it appears among the entries and is not counted.
func OpenDescriptorCount() int {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return -1
	}
	return len(entries) - 1
}
