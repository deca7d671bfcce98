package version

import "fmt"

const (
	Major = 0
	Minor = 1
	Patch = 0
)

// Version is the human-readable release string.
var Version = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
