//go:build !unix && !windows

package identity

import "runtime"

// OSVersion returns the operating system name; no version is available here.
func OSVersion() string {
	return runtime.GOOS
}
