// Command docstore inspects and maintains the gateway's document from the
// command line, using the same configuration as the server.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
