// Package version holds build-time identifying information reported by
// `transwacomd version`. Discovery TXT records carry the wire protocol
// version, not this build version.
package version

import "fmt"

// Version, GitCommit and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/transwacom/transwacomd/pkg/version.Version=v1.0.0 \
//	  -X github.com/transwacom/transwacomd/pkg/version.GitCommit=abc1234 \
//	  -X github.com/transwacom/transwacomd/pkg/version.BuildDate=2026-07-31"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a one-line human-readable build identifier.
func Info() string {
	return fmt.Sprintf("transwacomd %s (%s, built %s)", Version, GitCommit, BuildDate)
}
