//go:build !linux

package sandbox

// DenyInit is only supported on Linux (the macOS Apple Containers backend
// leaves denied paths out of its mounts instead).
func DenyInit(args []string) {
	panic("_deny_init is only supported on Linux")
}
