// Package version holds the server version.
package version

import "fmt"

var (
	// Version is the release version of the server.
	Version = "0.3.1"
	// DevVersion is the suffixed version used outside prod mode.
	DevVersion = Version + "-dev"
)

func GetCurrentVersion(mode string) string {
	if mode == "prod" {
		return Version
	}
	return DevVersion
}

func GetVersionString(mode string) string {
	return fmt.Sprintf("recall/%s", GetCurrentVersion(mode))
}
