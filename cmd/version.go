package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information, injected at build time via ldflags.
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Fprintf(os.Stdout, "sift %s\n", AppVersion)
		fmt.Fprintf(os.Stdout, "  build time: %s\n", BuildTime)
		fmt.Fprintf(os.Stdout, "  git commit: %s\n", GitCommit)
		fmt.Fprintf(os.Stdout, "  go: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
