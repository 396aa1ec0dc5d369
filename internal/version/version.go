//nolint:gochecknoglobals // version info set via ldflags
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Set with -ldflags:
//
//	-X github.com/bavix/btscan/internal/version.Version=v0.3.0 \
//	-X github.com/bavix/btscan/internal/version.BuildTime=2026-10-01T12:00:00Z
var (
	Version   = "dev"
	BuildTime = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func GetVersion() string { return Version }

func GetBuildTime() string { return BuildTime }

// Get collects build info. Revision comes from the VCS stamp when the binary
// was built from a checkout.
func Get() Info {
	info := Info{
		Version:   Version,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Revision = s.Value
			}
		}
	}

	return info
}

// String is the one-line form used by --version.
func (i Info) String() string {
	parts := []string{"btscan", i.Version}

	if i.Revision != "" {
		rev := i.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}

		parts = append(parts, "("+rev+")")
	}

	if i.BuildTime != "" {
		parts = append(parts, "built", i.BuildTime)
	}

	return strings.Join(append(parts, i.GoVersion, i.OS+"/"+i.Arch), " ")
}
