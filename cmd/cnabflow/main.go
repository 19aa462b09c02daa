// Command cnabflow ingests and processes CNAB fixed-width transaction files.
package main

import (
	"os"

	"github.com/marmos91/cnabflow/cmd/cnabflow/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
