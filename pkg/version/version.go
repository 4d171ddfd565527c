package version

import (
	"runtime/debug"
)

// Version and CommitSHA can be set via:
// -ldflags="-X 'github.com/defenseunicorns/perfkit-hub/pkg/version.Version=$TAG'
// -X 'github.com/defenseunicorns/perfkit-hub/pkg/version.CommitSHA=$SHA'"
var (
	Version   string
	CommitSHA string
)

func init() {
	i, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "" {
		Version = i.Main.Version
	}
	if CommitSHA == "" {
		for _, s := range i.Settings {
			if s.Key == "vcs.revision" {
				CommitSHA = s.Value
			}
		}
	}
}

// JSON renders the build version the way the CLI prints it.
func JSON() string {
	return `{"version": "` + Version + `", "commit": "` + CommitSHA + `"}`
}
