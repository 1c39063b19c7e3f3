// Command lazypkg serves package bundles to lazypkg runtimes and inspects
// package manifests.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
