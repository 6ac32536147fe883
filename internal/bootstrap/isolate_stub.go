//go:build !linux

package bootstrap

import (
	"fmt"
	"runtime"
)

// isolate is unimplemented off Linux: chroot plus setresuid/setresgid
// privilege drop has no portable equivalent, and this repository targets
// Linux deployments only.
func isolate(id Identity, emptyDir string) error {
	return fmt.Errorf("bootstrap: privilege drop is not implemented on %s", runtime.GOOS)
}

// ApplyLimits is unimplemented off Linux; see isolate.
func ApplyLimits(lim Limits) error {
	return fmt.Errorf("bootstrap: resource limits are not implemented on %s", runtime.GOOS)
}
