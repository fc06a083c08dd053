// Package version provides the gantry version strings.
package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
)

// buildVersion can be overridden at compile time:
//
//	go build -ldflags "-X github.com/gantryci/gantry/version.buildVersion=abc" .
//
// Release binaries are always built with buildVersion set.

//go:embed VERSION
var baseVersion string
var buildVersion string

func Version() string {
	return strings.TrimSpace(baseVersion)
}

func BuildVersion() string {
	if buildVersion == "" {
		return "x"
	}
	return buildVersion
}

// FullVersion is reported by `gantry --version` and the build API.
func FullVersion() string {
	return fmt.Sprintf("%s, build %s (%s/%s)", Version(), BuildVersion(), runtime.GOOS, runtime.GOARCH)
}
