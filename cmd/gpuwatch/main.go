// Command gpuwatch is the GPU availability monitor.
package main

import "gpuwatch/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
