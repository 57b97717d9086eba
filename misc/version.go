// Package misc keeps build identification helpers in one place.
package misc

import (
	"runtime/debug"
	"sync"
)

const appName = "mlxc"

// GetAppName returns short program name used in logs, reports and temp files.
func GetAppName() string {
	return appName
}

var buildInfo = sync.OnceValue(func() *debug.BuildInfo {
	if bi, ok := debug.ReadBuildInfo(); ok {
		return bi
	}
	return nil
})

// GetVersion returns module version recorded by the Go toolchain.
func GetVersion() string {
	bi := buildInfo()
	if bi == nil || bi.Main.Version == "" {
		return "devel"
	}
	return bi.Main.Version
}

// GetGitHash returns VCS revision recorded by the Go toolchain, if any.
func GetGitHash() string {
	bi := buildInfo()
	if bi == nil {
		return "unknown"
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}
