// Command proctorctl reads proctoring violations from the collector.
package main

import (
	"fmt"
	"os"

	"github.com/kdimtricp/vproctor/internal/cli"
)

func main() {
	if err := cli.Execute(os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
