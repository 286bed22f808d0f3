// Package version holds the release number of the updater.
package version

import "fmt"

const (
	Major = 1
	Minor = 5
	Patch = 0
)

// String returns the version as "major.minor.patch".
func String() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
}
