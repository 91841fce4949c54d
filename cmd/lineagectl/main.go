// Command lineagectl checks clergy forms against the lineage API and renders
// wiki pages and lineage charts offline.
package main

import (
	"errors"
	"fmt"
	"os"

	"lineage/api/internal/output"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errViolations) {
			fmt.Fprintln(os.Stderr, output.Error("%v", err))
		}
		os.Exit(1)
	}
}
