//go:build linux

package bootstrap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// isolate chroots into emptyDir, reduces the supplementary groups to id's
// gid alone, and switches to id's uid/gid using the real/effective/saved
// setresuid(2)/setresgid(2) pair the original enclave relies on (so no
// prior privilege can be regained), in that order: chroot and chdir must
// happen while still privileged, and uid must be dropped last since
// dropping uid first would leave the process unable to call setresgid.
func isolate(id Identity, emptyDir string) error {
	if err := unix.Chroot(emptyDir); err != nil {
		return fmt.Errorf("bootstrap: chroot %s: %w", emptyDir, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("bootstrap: chdir /: %w", err)
	}
	if err := unix.Setgroups([]int{int(id.GID)}); err != nil {
		return fmt.Errorf("bootstrap: setgroups: %w", err)
	}
	if err := unix.Setresgid(int(id.GID), int(id.GID), int(id.GID)); err != nil {
		return fmt.Errorf("bootstrap: setresgid: %w", err)
	}
	if err := unix.Setresuid(int(id.UID), int(id.UID), int(id.UID)); err != nil {
		return fmt.Errorf("bootstrap: setresuid: %w", err)
	}
	return nil
}

// applyRlimit sets both the soft and hard limit for resource to n.
func applyRlimit(resource int, n uint64) error {
	rl := unix.Rlimit{Cur: n, Max: n}
	return unix.Setrlimit(resource, &rl)
}

// ApplyLimits enforces the resource ceilings computed from the
// configuration size, following the original enclave's xensurelimit
// sequence: data, core/fsize, memlock, file descriptors, and process
// creation are all pinned down before any untrusted input is processed.
func ApplyLimits(lim Limits) error {
	if err := applyRlimit(unix.RLIMIT_DATA, lim.DataBytes); err != nil {
		return fmt.Errorf("bootstrap: RLIMIT_DATA: %w", err)
	}
	if err := applyRlimit(unix.RLIMIT_FSIZE, lim.MaxCore); err != nil {
		return fmt.Errorf("bootstrap: RLIMIT_FSIZE: %w", err)
	}
	if err := applyRlimit(unix.RLIMIT_CORE, lim.MaxCore); err != nil {
		return fmt.Errorf("bootstrap: RLIMIT_CORE: %w", err)
	}
	if err := applyRlimit(unix.RLIMIT_MEMLOCK, 0); err != nil {
		return fmt.Errorf("bootstrap: RLIMIT_MEMLOCK: %w", err)
	}
	if err := applyRlimit(unix.RLIMIT_NOFILE, lim.NoFile); err != nil {
		return fmt.Errorf("bootstrap: RLIMIT_NOFILE: %w", err)
	}
	if err := applyRlimit(unix.RLIMIT_NPROC, 0); err != nil {
		return fmt.Errorf("bootstrap: RLIMIT_NPROC: %w", err)
	}
	if err := applyRlimit(unix.RLIMIT_STACK, lim.StackBytes); err != nil {
		return fmt.Errorf("bootstrap: RLIMIT_STACK: %w", err)
	}
	return nil
}
