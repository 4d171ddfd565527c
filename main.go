package main

import (
	"os"

	"github.com/defenseunicorns/perfkit-hub/cmd"
)

// main function remains to call Execute.
func main() {
	cmd.Execute(os.Args[1:])
}
