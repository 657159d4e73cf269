// Command pakman is the dispatch core's entry point: build info
// injection, panic recovery, and Cobra command execution.
//
// Version injection:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
//
// Usage:
//
//	pakman sweep --simulator ... --generator ...
//	pakman rejection --simulator ... --prior-sampler ... --target 500
//	pakman smc --simulator ... --epsilons 1.0,0.5,0.25
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/pakman/internal/cli"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
