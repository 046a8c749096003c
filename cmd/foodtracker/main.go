// Command foodtracker matches meal descriptions and photos against a food
// library and keeps a local diary of entries, nutrition goals and statistics.
//
// Run `foodtracker serve` for the HTTP API, `foodtracker mcp` for the MCP
// stdio server, or one of the one-shot commands (scan, log, add, summary,
// goals, stats, foods, precompute).
package main

import (
	"fmt"
	"os"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "foodtracker:", err)
		os.Exit(1)
	}
}
