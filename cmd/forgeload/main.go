package main

import (
	"os"

	"github.com/jassi-singh/forgeload/internal/cli"
	"github.com/jassi-singh/forgeload/internal/errext"
	"github.com/jassi-singh/forgeload/internal/errext/exitcodes"
)

// Main is the entry point for the application.
// It's exported to make it testable.
func Main() int {
	err := cli.Execute()
	return int(errext.ExitCodeOf(err, exitcodes.Fatal))
}

func main() {
	os.Exit(Main())
}
