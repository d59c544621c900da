// Package version reports how the dispatchd binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unset = "dev"

// Set with -ldflags "-X github.com/teranos/dispatchd/version.Version=...".
// Unset values fall back to the module build info embedded by go build.
var (
	Version    = unset
	CommitHash = unset
	BuildTime  = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Dirty      bool   `json:"dirty,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the build information of the running binary.
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = fromBuildInfo(info, bi)
	}
	return info
}

// fromBuildInfo fills fields the linker flags left unset.
func fromBuildInfo(info Info, bi *debug.BuildInfo) Info {
	if info.Version == unset && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.CommitHash == unset {
				info.CommitHash = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// Short is the abbreviated commit hash.
func (i Info) Short() string {
	if len(i.CommitHash) > 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// Release is the version for log lines: the tag, or dev plus the short hash.
func (i Info) Release() string {
	v := i.Version
	if v == unset && i.CommitHash != unset {
		v = "dev-" + i.Short()
	}
	if i.Dirty {
		v += "+dirty"
	}
	return v
}

func (i Info) String() string {
	return fmt.Sprintf("dispatchd %s (commit %s, built %s)", i.Release(), i.Short(), i.BuildTime)
}
