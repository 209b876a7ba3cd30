package runtime

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

type RuntimeInfo struct {
	AppName     string `json:"app.name"`
	Version     string `json:"version"`
	GoVersion   string `json:"go.version"`
	GoArch      string `json:"go.arch"`
	Vcs         string `json:"vcs"`
	VcsRevision string `json:"vcs.revision"`
	VcsTime     string `json:"vcs.time"`
	Dirty       bool   `json:"dirty"`
	StartedAt   int64  `json:"started_at"`
}

// BuildInfo is filled from the binary build settings at init.
var BuildInfo RuntimeInfo

func init() {
	BuildInfo.AppName = "chunksync"
	BuildInfo.Version = "no-set"
	BuildInfo.Dirty = true
	BuildInfo.GoVersion = runtime.Version()
	BuildInfo.GoArch = runtime.GOARCH
	BuildInfo.StartedAt = time.Now().UnixMilli()

	// -buildvcs=true / auto
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Path != "" {
			paths := strings.Split(info.Path, "/")
			BuildInfo.AppName = paths[len(paths)-1]
		}
		if v := info.Main.Version; v != "" && v != "(devel)" {
			BuildInfo.Version = v
		}

		for _, kv := range info.Settings {
			switch kv.Key {
			case "vcs":
				BuildInfo.Vcs = kv.Value
			case "vcs.revision":
				BuildInfo.VcsRevision = kv.Value[:min(8, len(kv.Value))]
			case "vcs.time":
				BuildInfo.VcsTime = kv.Value
			case "vcs.modified":
				BuildInfo.Dirty = kv.Value == "true"
			}
		}
	}
}

func (info RuntimeInfo) String() string {
	return fmt.Sprintf(`%s %s
Go: %s %s
Commit: %s
Built at: %s
Dirty: %t`,
		info.AppName, info.Version, info.GoVersion, info.GoArch, info.VcsRevision, info.VcsTime, info.Dirty)
}
