// tycostream serves Materialize views as live, filterable row streams over
// WebSocket, with webhook triggers on filter transitions.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
