// Command flicker validates, renders and live-reloads visual synthesis
// patches.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
