//go:build windows

package identity

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// OSVersion returns the Windows version as "major.minor.build".
func OSVersion() string {
	v := windows.RtlGetVersion()
	return fmt.Sprintf("%d.%d.%d", v.MajorVersion, v.MinorVersion, v.BuildNumber)
}
