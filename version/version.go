// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/jackzampolin/pointgen/version.GitRelease=v0.1.0" ./cmd/pointgen
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// GitRelease is the release tag.
	GitRelease = "dev"
	// GitCommit is the commit hash the binary was built from.
	GitCommit = "unknown"
	// GitCommitDate is the commit timestamp.
	GitCommitDate = "unknown"
	// GoInfo describes the toolchain and platform.
	GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)

func init() {
	if GitCommit != "unknown" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			GitCommit = s.Value
		case "vcs.time":
			GitCommitDate = s.Value
		}
	}
}
