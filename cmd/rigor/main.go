// Command rigor inspects and exercises rigor run stores.
package main

import (
	"os"

	"github.com/mesh-intelligence/rigor/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
