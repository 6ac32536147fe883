//go:build !linux

package bootstrap

// DescriptorIsOpen has no portable implementation outside Linux; the real
// Enclave only ever runs there.
func DescriptorIsOpen(fd int) bool {
	return fd >= 0
}

// OpenDescriptorCount has no portable implementation outside Linux.
func OpenDescriptorCount() int {
	return -1
}
