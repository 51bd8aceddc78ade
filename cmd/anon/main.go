// Command anon is the masking engine CLI and admin API server.
package main

import (
	"os"

	"pganon/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
