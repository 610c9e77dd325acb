// Command packline is the pick & pack session client.
package main

import (
	"os"

	"github.com/Iron-Ham/packline/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
