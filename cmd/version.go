package cmd

import "fmt"

// Version information (injected at build time via ldflags).
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func runVersion() {
	fmt.Printf("mimir %s\n", Version)
	fmt.Printf("  build time  %s\n", BuildTime)
	fmt.Printf("  commit      %s\n", GitCommit)
}
