// Command sqlprof profiles SQL statements and serves the recorded sessions.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/sqlprof/sqlprof/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
