// Command mcpsessions runs the MCP session service and administers its
// session store.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
