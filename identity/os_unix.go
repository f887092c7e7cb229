//go:build unix

package identity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// OSVersion returns the kernel release, e.g. "6.8.0-45-generic".
func OSVersion() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS
	}
	return unix.ByteSliceToString(u.Release[:])
}
