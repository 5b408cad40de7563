// Command papermarket runs the simulated NSE market and paper trading desk.
package main

import (
	"fmt"
	"os"

	"papermarket/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
