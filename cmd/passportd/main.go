// Package main provides passportd, the passport registry server.
package main

import (
	"flag"
	"os"
)

func main() {
	// glog is only used for fatal startup errors; keep it on stderr.
	_ = flag.Set("logtostderr", "true")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
