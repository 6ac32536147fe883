// Package bootstrap carries out the Enclave's one-time startup sequence
// before the dispatch loop ever runs: verifying the process inherited
// exactly the descriptors it expects, fitting the resource limits spec.md
// §5 requires, and handing off to the platform-specific privilege drop in
// isolate_linux.go / isolate_stub.go (mirroring the teacher's tap_linux.go
// / tap_stub.go split for functionality only Linux can provide).
package bootstrap

import (
	"fmt"
	"log/slog"
)

// Limits are the resource ceilings enforced once the heap requirement for
// a given peer and interface count is known, named after the original
// enclave's xensurelimit calls.
type Limits struct {
	DataBytes  uint64
	MaxCore    uint64
	NoFile     uint64
	StackBytes uint64
}

// HeapEstimate computes the RLIMIT_DATA ceiling from the configuration
// size, following the original's heapneeded computation: a fixed minimum
// plus per-peer and per-interface allowances.
func HeapEstimate(ifnCount, peerCount int) uint64 {
	const (
		minData            = 32 << 20 // conservative floor for the Go runtime itself
		perPeerBytes       = 512
		perIfnBytes        = 256
		perIfnKeventsFudge = 64
	)
	return uint64(minData) +
		uint64(peerCount)*perPeerBytes +
		uint64(ifnCount)*(perIfnBytes+perIfnKeventsFudge)
}

// DescriptorSet names the descriptors the Enclave must have inherited
// before it does any other work: the parent control channel, the Proxy
// channel, and one channel per configured interface.
type DescriptorSet struct {
	MasterFD int
	ProxyFD  int
	IfnFDs   []int
}

// CheckOpen verifies every descriptor in the set is still valid and that
// the process' total open-descriptor count matches exactly what is
// expected — stdio plus the control descriptors plus one per interface.
// Any mismatch means a descriptor leaked or one was silently closed, and
// is treated as fatal: the original enclave_init exits rather than
// continuing with an ambiguous descriptor table.
func CheckOpen(ds DescriptorSet, isOpen func(fd int) bool, openCount func() int, stdioOpenCount int) error {
	if !isOpen(ds.MasterFD) {
		return fmt.Errorf("bootstrap: master descriptor %d not open", ds.MasterFD)
	}
	if !isOpen(ds.ProxyFD) {
		return fmt.Errorf("bootstrap: proxy descriptor %d not open", ds.ProxyFD)
	}
	for i, fd := range ds.IfnFDs {
		if !isOpen(fd) {
			return fmt.Errorf("bootstrap: interface %d descriptor %d not open", i, fd)
		}
	}
	want := stdioOpenCount + 2 + len(ds.IfnFDs)
	if got := openCount(); got != want {
		return fmt.Errorf("bootstrap: descriptor count mismatch: %d != %d", got, want)
	}
	return nil
}

// Identity is the uid/gid the Enclave drops privileges to after it has
// finished reading configuration and before it processes any untrusted
// input.
type Identity struct {
	UID uint32
	GID uint32
}

// Isolate performs the platform privilege drop: chroot to an empty
// directory, reduce the supplementary groups to the target gid, and switch to the unprivileged
// uid/gid. The two build-tagged implementations (isolate_linux.go,
// isolate_stub.go) back this function; everything above is portable.
func Isolate(log *slog.Logger, id Identity, emptyDir string) error {
	log.Info("dropping privileges", "uid", id.UID, "gid", id.GID, "chroot", emptyDir)
	return isolate(id, emptyDir)
}
