package config

import "fmt"

// ModuleName is the human readable name of the binary.
const ModuleName = "ledger-provider"

// Set via ldflags at build time.
var (
	Commit    = "< 40 chars git commit hash via ldflags >"
	BuildDate = "1970-01-01-00:00:00"
)

func GetFormattedBuildArgs() string {
	return fmt.Sprintf("%v @ %v (%v)", ModuleName, Commit, BuildDate)
}
