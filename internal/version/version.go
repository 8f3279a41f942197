package version

import (
	"fmt"
	"runtime"

	"github.com/dashcrypt/cryptgen/internal/conf"
)

type VersionStat struct {
	Version     string `json:"version"`
	VersionLong string `json:"versionLong"`
	BuildTime   string `json:"buildTime"`
	GoVersion   string `json:"goVersion"`
}

func GetVersion() VersionStat {
	return VersionStat{
		Version:     conf.Version,
		VersionLong: conf.VersionLong,
		BuildTime:   conf.BuildTime,
		GoVersion:   runtime.Version(),
	}
}

func (v VersionStat) String() string {
	return fmt.Sprintf("cryptgen %s (%s) built %s with %s", v.Version, v.VersionLong, v.BuildTime, v.GoVersion)
}
