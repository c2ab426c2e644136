// Package version reports the version of pstack.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the release of pstack and the revision it was built from.
type Version struct {
	Major, Minor, Patch int
	Metadata            string
	// Build is the VCS revision. When empty it is read from the build
	// information embedded by the go command.
	Build string
}

// PstackVersion is the current version of pstack.
var PstackVersion = Version{Major: 0, Minor: 3, Patch: 0}

func (v Version) String() string {
	if v.Build == "" {
		v.Build = revision()
	}
	s := fmt.Sprintf("Version: %d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		s += "-" + v.Metadata
	}
	if v.Build != "" {
		s += "\nBuild: " + v.Build
	}
	return s
}

// BuildInfo returns the Go version and the module versions pstack was
// built with.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), moduleBuildInfo())
}

// revision returns the VCS revision of the main module, with a "+dirty"
// suffix for builds of a modified tree.
func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev, dirty string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value
		case "vcs.modified":
			if setting.Value == "true" {
				dirty = "+dirty"
			}
		}
	}
	if rev == "" {
		return ""
	}
	return rev + dirty
}
