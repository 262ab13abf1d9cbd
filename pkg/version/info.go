// Package version reports build metadata for the transfers binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	Unknown            = "unknown"
	DevelopmentVersion = "dev"
)

// Overridden at link time:
// go build -ldflags="-X github.com/nimburion/transfers/pkg/version.AppVersion=v1.2.3"
var (
	AppVersion = DevelopmentVersion
	GitCommit  = Unknown
	BuildTime  = Unknown
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info describes the running binary and the newest migration it embeds.
type Info struct {
	Service         string `json:"service" yaml:"service"`
	Version         string `json:"version" yaml:"version"`
	Commit          string `json:"commit" yaml:"commit"`
	BuildTime       string `json:"build_time" yaml:"build_time"`
	GoVersion       string `json:"go_version" yaml:"go_version"`
	SchemaMigration int64  `json:"schema_migration,omitempty" yaml:"schema_migration,omitempty"`
}

// Current returns build metadata. When no commit was linked in, the VCS
// revision recorded by the Go toolchain is used.
func Current(serviceName string, schemaMigration int64) Info {
	info := Info{
		Service:         orDefault(serviceName, Unknown),
		Version:         orDefault(AppVersion, DevelopmentVersion),
		Commit:          orDefault(GitCommit, Unknown),
		BuildTime:       orDefault(BuildTime, Unknown),
		GoVersion:       runtime.Version(),
		SchemaMigration: schemaMigration,
	}
	if info.Commit != Unknown {
		return info
	}
	if bi, ok := readBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.time":
				if info.BuildTime == Unknown {
					info.BuildTime = s.Value
				}
			}
		}
	}
	return info
}

func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s, schema=%d)", i.Service, i.Version, i.Commit, i.BuildTime, i.SchemaMigration)
}

func orDefault(v, fallback string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return fallback
}
